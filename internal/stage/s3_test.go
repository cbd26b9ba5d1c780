package stage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// fakeS3 implements the two calls the client makes. pageSize forces list
// pagination when non-zero.
type fakeS3 struct {
	s3iface.S3API

	objects  map[string][]byte
	putErr   error
	listErr  error
	pageSize int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, input *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.StringValue(input.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2WithContext(_ aws.Context, input *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.StringValue(input.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.StringValue(input.ContinuationToken); tok != "" {
		for i, key := range keys {
			if key > tok {
				start = i
				break
			}
		}
	}

	end := len(keys)
	truncated := false
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
		truncated = true
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(truncated)}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, &s3.Object{Key: aws.String(key)})
	}
	if truncated {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func TestObjectKeyLayout(t *testing.T) {
	c := newClientWithAPI(newFakeS3(), "lake", "bronze")
	runTS := time.Date(2025, 6, 1, 12, 30, 15, 0, time.UTC)

	key := c.ObjectKey("shop", "fac_orders", "incremental", runTS)
	want := "bronze/shop/fac_orders/date=2025/06/01/fac_orders_incremental_20250601T123015Z.csv.gz"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
}

func TestObjectKeysSortInRunOrder(t *testing.T) {
	c := newClientWithAPI(newFakeS3(), "lake", "bronze")

	earlier := c.ObjectKey("shop", "fac_orders", "full", time.Date(2025, 5, 30, 23, 59, 0, 0, time.UTC))
	later := c.ObjectKey("shop", "fac_orders", "incremental", time.Date(2025, 6, 1, 0, 1, 0, 0, time.UTC))
	if !(earlier < later) {
		t.Errorf("keys do not sort in run order: %q vs %q", earlier, later)
	}
}

func TestUploadAndLatestArtifact(t *testing.T) {
	api := newFakeS3()
	c := newClientWithAPI(api, "lake", "bronze")
	ctx := context.Background()

	spool := filepath.Join(t.TempDir(), "fac_orders.csv.gz")
	if err := os.WriteFile(spool, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	first := c.ObjectKey("shop", "fac_orders", "full", time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC))
	second := c.ObjectKey("shop", "fac_orders", "incremental", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	for _, key := range []string{first, second} {
		if err := c.Upload(ctx, "fac_orders", spool, key); err != nil {
			t.Fatal(err)
		}
	}
	if string(api.objects[second]) != "payload" {
		t.Errorf("uploaded body = %q, want payload", api.objects[second])
	}

	latest, err := c.LatestArtifact(ctx, "shop", "fac_orders")
	if err != nil {
		t.Fatal(err)
	}
	if latest != second {
		t.Errorf("latest = %q, want %q", latest, second)
	}
}

func TestLatestArtifactNoObjects(t *testing.T) {
	c := newClientWithAPI(newFakeS3(), "lake", "bronze")

	latest, err := c.LatestArtifact(context.Background(), "shop", "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if latest != "" {
		t.Errorf("latest = %q, want empty for unstaged table", latest)
	}
}

func TestLatestArtifactPaginates(t *testing.T) {
	api := newFakeS3()
	api.pageSize = 2
	c := newClientWithAPI(api, "lake", "bronze")

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var newest string
	for i := 0; i < 5; i++ {
		newest = c.ObjectKey("shop", "mov_stock", "incremental", base.Add(time.Duration(i)*time.Hour))
		api.objects[newest] = nil
	}

	latest, err := c.LatestArtifact(context.Background(), "shop", "mov_stock")
	if err != nil {
		t.Fatal(err)
	}
	if latest != newest {
		t.Errorf("latest = %q, want %q", latest, newest)
	}
}

func TestLatestArtifactIgnoresOtherTables(t *testing.T) {
	api := newFakeS3()
	c := newClientWithAPI(api, "lake", "bronze")

	// mov_stock_old shares mov_stock as a name prefix; the trailing slash in
	// the listing prefix must keep it out.
	api.objects["bronze/shop/mov_stock_old/date=2025/06/02/mov_stock_old_full_20250602T000000Z.csv.gz"] = nil
	ours := c.ObjectKey("shop", "mov_stock", "full", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	api.objects[ours] = nil

	latest, err := c.LatestArtifact(context.Background(), "shop", "mov_stock")
	if err != nil {
		t.Fatal(err)
	}
	if latest != ours {
		t.Errorf("latest = %q, want %q", latest, ours)
	}
}

func TestUploadError(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("access denied")
	c := newClientWithAPI(api, "lake", "bronze")

	spool := filepath.Join(t.TempDir(), "f.csv.gz")
	if err := os.WriteFile(spool, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := c.Upload(context.Background(), "fac_orders", spool, "bronze/shop/fac_orders/k")
	if err == nil {
		t.Fatal("expected upload error")
	}
	var stagingErr *StagingError
	if !errors.As(err, &stagingErr) {
		t.Fatalf("error type = %T, want *StagingError", err)
	}
	if stagingErr.Table != "fac_orders" {
		t.Errorf("error table = %q, want fac_orders", stagingErr.Table)
	}
}
