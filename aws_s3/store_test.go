package aws_s3

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/sharedcode/rowbatch"
)

func TestObjectKeys(t *testing.T) {
	k := rowbatch.RowKey{Table: rowbatch.NameUUID("T"), Row: rowbatch.NewUUID()}
	got, err := parseObjectKey(objectKey(k))
	if err != nil || got != k {
		t.Errorf("got %v, %v, want %v", got, err, k)
	}
	for _, bad := range []string{"rows/x", "rows/" + k.Table.String() + "/nope", "rows/a/b/c"} {
		if _, err := parseObjectKey(bad); err == nil {
			t.Errorf("%q parsed", bad)
		}
	}
}

func TestCompareStored(t *testing.T) {
	tid := rowbatch.NameUUID("T")
	x, y := rowbatch.NewUUID(), rowbatch.NewUUID()
	if x.Compare(y) > 0 {
		x, y = y, x
	}
	rows := []storedRow{
		{key: rowbatch.RowKey{Table: tid, Row: y}, rowObject: rowObject{Seq: 5}},
		{key: rowbatch.RowKey{Table: tid, Row: x}, rowObject: rowObject{Seq: 5}},
		{key: rowbatch.RowKey{Table: tid, Row: y}, rowObject: rowObject{Seq: 1}},
	}
	slices.SortFunc(rows, compareStored)
	if rows[0].Seq != 1 || rows[1].key.Row != x || rows[2].key.Row != y {
		t.Errorf("got %v", rows)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		notFound     bool
		precondition bool
	}{
		{"nil", nil, false, false},
		{"no such key", fmt.Errorf("get: %w", &types.NoSuchKey{}), true, false},
		{"head not found", &types.NotFound{}, true, false},
		{"precondition", &smithy.GenericAPIError{Code: "PreconditionFailed"}, false, true},
		{"conditional conflict", &smithy.GenericAPIError{Code: "ConditionalRequestConflict"}, false, true},
		{"other api error", &smithy.GenericAPIError{Code: "AccessDenied"}, false, false},
		{"plain", errors.New("boom"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.notFound {
				t.Errorf("isNotFound got %v", got)
			}
			if got := isPreconditionFailed(tt.err); got != tt.precondition {
				t.Errorf("isPreconditionFailed got %v", got)
			}
		})
	}
}

func TestNewStore(t *testing.T) {
	if _, err := NewStore(nil, Config{}); err == nil {
		t.Error("store without a bucket was created")
	}
	s, err := NewStore(nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if s.concurrency != DefaultConcurrency || s.bucket != "rowbatch" {
		t.Errorf("got %+v", s)
	}
}
