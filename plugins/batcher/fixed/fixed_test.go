package fixed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"basiccorr/pkg/contract"
)

func group(n int) contract.Group {
	g := contract.Group{Key: contract.GroupKey{"g"}}
	for i := 0; i < n; i++ {
		g.Members = append(g.Members, contract.ImageRecord{Filename: fmt.Sprintf("f%02d.tif", i)})
	}
	return g
}

// TestMakeSizes 批数与批大小满足 ceil(M/N) 与末批 M mod N。
func TestMakeSizes(t *testing.T) {
	tests := []struct {
		m, size int
		want    []int
	}{
		{5, 0, []int{5}},
		{5, 2, []int{2, 2, 1}},
		{6, 2, []int{2, 2, 2}},
		{5, 5, []int{5}},
		{5, 9, []int{5}},
		{1, 0, []int{1}},
		{1, 3, []int{1}},
		{7, 1, []int{1, 1, 1, 1, 1, 1, 1}},
		{5, -1, []int{5}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("m%d_n%d", tt.m, tt.size), func(t *testing.T) {
			g := group(tt.m)
			batches, err := New().Make(context.Background(), g, tt.size)
			if err != nil {
				t.Fatalf("make: %v", err)
			}
			if len(batches) != len(tt.want) || len(batches) != Count(tt.m, tt.size) {
				t.Fatalf("batch count %d, want %d (Count=%d)", len(batches), len(tt.want), Count(tt.m, tt.size))
			}
			next := 0
			for i, b := range batches {
				if b.Index != i {
					t.Fatalf("batch index %d != %d", b.Index, i)
				}
				if len(b.Records) != tt.want[i] {
					t.Fatalf("batch %d size %d, want %d", i, len(b.Records), tt.want[i])
				}
				for _, r := range b.Records {
					if r.Filename != g.Members[next].Filename {
						t.Fatalf("order broken at %d: %s", next, r.Filename)
					}
					next++
				}
			}
			if next != tt.m {
				t.Fatalf("records lost: %d != %d", next, tt.m)
			}
		})
	}
}

// TestMakeEmptyGroup 空组返回 ErrEmptyBatch。
func TestMakeEmptyGroup(t *testing.T) {
	_, err := New().Make(context.Background(), contract.Group{}, 2)
	if !errors.Is(err, contract.ErrEmptyBatch) {
		t.Fatalf("want ErrEmptyBatch got %v", err)
	}
}

// TestMakeBatchIsolated 对批切片追加不影响后续成员。
func TestMakeBatchIsolated(t *testing.T) {
	g := group(4)
	batches, _ := New().Make(context.Background(), g, 2)
	_ = append(batches[0].Records, contract.ImageRecord{Filename: "x"})
	if g.Members[2].Filename != "f02.tif" {
		t.Fatalf("append leaked into group members")
	}
}

// TestMakeCtxCancel 取消后返回上下文错误。
func TestMakeCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Make(ctx, group(3), 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled got %v", err)
	}
}

// TestCount 边界。
func TestCount(t *testing.T) {
	if Count(0, 2) != 0 || Count(10, 3) != 4 || Count(10, 0) != 1 {
		t.Fatalf("count mismatch")
	}
}
