package warehouse

import "testing"

func orderSpec() TableSpec {
	return TableSpec{
		Name: "fac_orders",
		Columns: []ColumnSpec{
			{Name: "order_id", Type: "NUMBER(38,0)"},
			{Name: "customer", Type: "VARCHAR(64)"},
			{Name: "total", Type: "NUMBER(10,2)"},
			{Name: "updated_at", Type: "TIMESTAMP_NTZ"},
		},
		PrimaryKey:     []string{"order_id"},
		EventTimestamp: "updated_at",
	}
}

func TestBuildCreateTable(t *testing.T) {
	got := BuildCreateTable(orderSpec())
	want := `CREATE TABLE IF NOT EXISTS "fac_orders" ("order_id" NUMBER(38,0), "customer" VARCHAR(64),` +
		` "total" NUMBER(10,2), "updated_at" TIMESTAMP_NTZ, PRIMARY KEY ("order_id"))` +
		` CLUSTER BY (TO_DATE("updated_at"))`
	if got != want {
		t.Errorf("create table:\n got %s\nwant %s", got, want)
	}
}

func TestBuildCreateTableExplicitClustering(t *testing.T) {
	spec := orderSpec()
	spec.ClusterBy = []string{"customer"}

	got := BuildCreateTable(spec)
	want := `CREATE TABLE IF NOT EXISTS "fac_orders" ("order_id" NUMBER(38,0), "customer" VARCHAR(64),` +
		` "total" NUMBER(10,2), "updated_at" TIMESTAMP_NTZ, PRIMARY KEY ("order_id"))` +
		` CLUSTER BY ("customer")`
	if got != want {
		t.Errorf("create table:\n got %s\nwant %s", got, want)
	}
}

func TestBuildCreateTableNoKeyNoTimestamp(t *testing.T) {
	spec := TableSpec{
		Name:    "snapshots",
		Columns: []ColumnSpec{{Name: "payload", Type: "VARCHAR"}},
	}

	got := BuildCreateTable(spec)
	want := `CREATE TABLE IF NOT EXISTS "snapshots" ("payload" VARCHAR)`
	if got != want {
		t.Errorf("create table = %s, want %s", got, want)
	}
}

func TestBuildCopyInto(t *testing.T) {
	got := BuildCopyInto("fac_orders_staging", "bronze_stage",
		"bronze/shop/fac_orders/date=2025/06/01/fac_orders_incremental_20250601T120000Z.csv.gz")
	want := `COPY INTO "fac_orders_staging" FROM ` +
		`'@bronze_stage/bronze/shop/fac_orders/date=2025/06/01/fac_orders_incremental_20250601T120000Z.csv.gz'` +
		` FILE_FORMAT = (TYPE = CSV SKIP_HEADER = 1 FIELD_OPTIONALLY_ENCLOSED_BY = '"'` +
		` EMPTY_FIELD_AS_NULL = TRUE COMPRESSION = GZIP)`
	if got != want {
		t.Errorf("copy into:\n got %s\nwant %s", got, want)
	}
}

func TestBuildMerge(t *testing.T) {
	got := BuildMerge(orderSpec(), "fac_orders_staging")
	want := `MERGE INTO "fac_orders" a USING (SELECT "order_id", "customer", "total", "updated_at"` +
		` FROM "fac_orders_staging") b ON a."order_id" = b."order_id"` +
		` WHEN MATCHED THEN UPDATE SET a."customer" = b."customer", a."total" = b."total", a."updated_at" = b."updated_at"` +
		` WHEN NOT MATCHED THEN INSERT ("order_id", "customer", "total", "updated_at")` +
		` VALUES (b."order_id", b."customer", b."total", b."updated_at")`
	if got != want {
		t.Errorf("merge:\n got %s\nwant %s", got, want)
	}
}

func TestBuildMergeCompositeKey(t *testing.T) {
	spec := TableSpec{
		Name: "ped_lineas",
		Columns: []ColumnSpec{
			{Name: "order_id", Type: "NUMBER(38,0)"},
			{Name: "line_no", Type: "NUMBER(38,0)"},
			{Name: "qty", Type: "NUMBER(38,0)"},
		},
		PrimaryKey: []string{"order_id", "line_no"},
	}

	got := BuildMerge(spec, "ped_lineas_staging")
	want := `MERGE INTO "ped_lineas" a USING (SELECT "order_id", "line_no", "qty" FROM "ped_lineas_staging") b` +
		` ON a."order_id" = b."order_id" AND a."line_no" = b."line_no"` +
		` WHEN MATCHED THEN UPDATE SET a."qty" = b."qty"` +
		` WHEN NOT MATCHED THEN INSERT ("order_id", "line_no", "qty") VALUES (b."order_id", b."line_no", b."qty")`
	if got != want {
		t.Errorf("merge:\n got %s\nwant %s", got, want)
	}
}

func TestBuildMergeAllKeyColumns(t *testing.T) {
	// A pure-key table has nothing to update; the MATCHED clause must be
	// omitted entirely.
	spec := TableSpec{
		Name:       "memberships",
		Columns:    []ColumnSpec{{Name: "user_id", Type: "NUMBER(38,0)"}, {Name: "group_id", Type: "NUMBER(38,0)"}},
		PrimaryKey: []string{"user_id", "group_id"},
	}

	got := BuildMerge(spec, "memberships_staging")
	want := `MERGE INTO "memberships" a USING (SELECT "user_id", "group_id" FROM "memberships_staging") b` +
		` ON a."user_id" = b."user_id" AND a."group_id" = b."group_id"` +
		` WHEN NOT MATCHED THEN INSERT ("user_id", "group_id") VALUES (b."user_id", b."group_id")`
	if got != want {
		t.Errorf("merge:\n got %s\nwant %s", got, want)
	}
}

func TestBuildReplacePartition(t *testing.T) {
	spec := orderSpec()

	gotDelete := BuildReplacePartitionDelete(spec, "fac_orders_staging")
	wantDelete := `DELETE FROM "fac_orders" WHERE TO_DATE("updated_at") IN` +
		` (SELECT DISTINCT TO_DATE("updated_at") FROM "fac_orders_staging")`
	if gotDelete != wantDelete {
		t.Errorf("delete:\n got %s\nwant %s", gotDelete, wantDelete)
	}

	gotInsert := BuildReplacePartitionInsert(spec, "fac_orders_staging")
	wantInsert := `INSERT INTO "fac_orders" ("order_id", "customer", "total", "updated_at")` +
		` SELECT "order_id", "customer", "total", "updated_at" FROM "fac_orders_staging"`
	if gotInsert != wantInsert {
		t.Errorf("insert:\n got %s\nwant %s", gotInsert, wantInsert)
	}
}

func TestBuildCreateStagingTable(t *testing.T) {
	got := BuildCreateStagingTable("fac_orders_staging", "fac_orders")
	want := `CREATE OR REPLACE TEMPORARY TABLE "fac_orders_staging" LIKE "fac_orders"`
	if got != want {
		t.Errorf("staging ddl = %s, want %s", got, want)
	}
}
