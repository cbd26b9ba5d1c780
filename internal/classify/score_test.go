package classify

import (
	"reflect"
	"testing"
)

func TestScoreTransactionalTable(t *testing.T) {
	// fac_orders: timestamp + modification watermark + auto-increment +
	// single PK + transactional name = 50+30+25+15+15 = 135.
	p := &TableProfile{
		Name:                 "fac_orders",
		RowCount:             100000,
		PrimaryKeyColumns:    []string{"order_id"},
		AutoIncrementColumns: []string{"order_id"},
		TimestampColumns: []TimestampColumn{
			{Name: "updated_at", Type: "datetime", Detection: DetectedByType},
		},
	}

	d := Score(p)

	if d.Score != 135 {
		t.Errorf("score = %d, want 135", d.Score)
	}
	if d.Strategy != IncrementalPreferred {
		t.Errorf("strategy = %s, want %s", d.Strategy, IncrementalPreferred)
	}
	if d.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want HIGH", d.Confidence)
	}
	if d.WatermarkColumn != "updated_at" {
		t.Errorf("watermark = %q, want updated_at", d.WatermarkColumn)
	}
}

func TestScoreStrategies(t *testing.T) {
	tests := []struct {
		name          string
		profile       *TableProfile
		wantScore     int
		wantStrategy  Strategy
		wantConf      Confidence
		wantWatermark string
	}{
		{
			name: "lookup table without timestamps",
			profile: &TableProfile{
				Name:              "config_tipos_iva",
				PrimaryKeyColumns: []string{"id"},
			},
			// 15 (single PK) - 15 (lookup name) = 0
			wantScore:    0,
			wantStrategy: FullReplace,
			wantConf:     ConfidenceHigh,
		},
		{
			name: "creation timestamp only",
			profile: &TableProfile{
				Name:              "customers",
				PrimaryKeyColumns: []string{"id", "region"},
				TimestampColumns: []TimestampColumn{
					{Name: "created_at", Type: "datetime", Detection: DetectedByType},
				},
			},
			// 50 + 20 (created) + 5 (composite PK) = 75
			wantScore:     75,
			wantStrategy:  IncrementalPreferred,
			wantConf:      ConfidenceHigh,
			wantWatermark: "created_at",
		},
		{
			name: "fallback watermark no keys",
			profile: &TableProfile{
				Name: "snapshots",
				TimestampColumns: []TimestampColumn{
					{Name: "f_fecha", Type: "date", Detection: DetectedByType},
				},
			},
			// 50 + 10 (fallback) - 20 (no PK) = 40
			wantScore:     40,
			wantStrategy:  IncrementalPossible,
			wantConf:      ConfidenceMedium,
			wantWatermark: "f_fecha",
		},
		{
			name: "audit table without primary key",
			profile: &TableProfile{
				Name: "audit_trail",
			},
			// -20 (no PK) + 20 (audit name) = 0
			wantScore:    0,
			wantStrategy: FullReplace,
			wantConf:     ConfidenceHigh,
		},
		{
			name: "challenging band",
			profile: &TableProfile{
				Name:              "products",
				PrimaryKeyColumns: []string{"sku"},
				AutoIncrementColumns: []string{
					"row_num",
				},
			},
			// 25 (auto-increment) + 15 (single PK) = 40
			wantScore:    40,
			wantStrategy: IncrementalPossible,
			wantConf:     ConfidenceMedium,
		},
		{
			name: "modification beats creation regardless of order",
			profile: &TableProfile{
				Name:              "mov_stock",
				PrimaryKeyColumns: []string{"id"},
				TimestampColumns: []TimestampColumn{
					{Name: "created_at", Type: "datetime", Detection: DetectedByType},
					{Name: "last_modified", Type: "datetime", Detection: DetectedByType},
				},
			},
			// 50 + 30 (last_modified) + 15 (single PK) + 15 (mov) = 110
			wantScore:     110,
			wantStrategy:  IncrementalPreferred,
			wantConf:      ConfidenceHigh,
			wantWatermark: "last_modified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Score(tt.profile)
			if d.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", d.Score, tt.wantScore)
			}
			if d.Strategy != tt.wantStrategy {
				t.Errorf("strategy = %s, want %s", d.Strategy, tt.wantStrategy)
			}
			if d.Confidence != tt.wantConf {
				t.Errorf("confidence = %s, want %s", d.Confidence, tt.wantConf)
			}
			if d.WatermarkColumn != tt.wantWatermark {
				t.Errorf("watermark = %q, want %q", d.WatermarkColumn, tt.wantWatermark)
			}
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	p := &TableProfile{
		Name:                 "ped_lineas_his",
		PrimaryKeyColumns:    []string{"id"},
		AutoIncrementColumns: []string{"id"},
		TimestampColumns: []TimestampColumn{
			{Name: "insert_date", Type: "datetime", Detection: DetectedByType},
			{Name: "update_time", Type: "timestamp", Detection: DetectedByType},
		},
	}

	first := Score(p)
	for i := 0; i < 10; i++ {
		if got := Score(p); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: decision differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestScoreWatermarkIsAlwaysATimestampColumn(t *testing.T) {
	profiles := []*TableProfile{
		{Name: "a", TimestampColumns: []TimestampColumn{{Name: "x_date"}}},
		{Name: "b", TimestampColumns: []TimestampColumn{{Name: "created_at"}, {Name: "updated_at"}}},
		{Name: "c"},
	}

	for _, p := range profiles {
		d := Score(p)
		if d.WatermarkColumn == "" {
			if len(p.TimestampColumns) > 0 {
				t.Errorf("table %s: no watermark chosen despite timestamp columns", p.Name)
			}
			continue
		}
		if !p.hasTimestampColumn(d.WatermarkColumn) {
			t.Errorf("table %s: watermark %q is not a profile timestamp column", p.Name, d.WatermarkColumn)
		}
	}
}
