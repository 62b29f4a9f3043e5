package segmerge_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/segmerge"
	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/testutil"
)

// Example demonstrates flushing segments and force merging them into one.
func Example() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "segmerge-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir) // Cleanup after example

	idx, err := segmerge.Open(dir)
	if err != nil {
		log.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := idx.Flush(ctx, testutil.PrefixedDocs("doc", i*3, 3)); err != nil {
			log.Fatal(err)
		}
	}
	fmt.Println("segments:", len(idx.Segments()))

	if err := idx.ForceMerge(ctx, 1); err != nil {
		log.Fatal(err)
	}
	fmt.Println("segments after force merge:", len(idx.Segments()))
	fmt.Println("live docs:", idx.Stats().LiveDocs)

	if err := idx.Close(ctx, true); err != nil {
		log.Fatal(err)
	}

	// Output:
	// segments: 3
	// segments after force merge: 1
	// live docs: 9
}

// Example_deletes demonstrates deleting documents and reading a snapshot.
func Example_deletes() {
	ctx := context.Background()

	idx, err := segmerge.OpenRemote(blobstore.NewMemoryStore())
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close(ctx, false)

	seg, err := idx.Flush(ctx, testutil.PrefixedDocs("doc", 0, 4))
	if err != nil {
		log.Fatal(err)
	}
	if err := idx.DeleteDocs(ctx, seg.ID, 1, 2); err != nil {
		log.Fatal(err)
	}

	snap, err := idx.Snapshot()
	if err != nil {
		log.Fatal(err)
	}
	defer snap.Release()

	err = idx.Scan(ctx, snap, func(_ segmerge.Segment, doc segmerge.DocID, data []byte) error {
		fmt.Println(doc, string(data))
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	// Output:
	// 0 doc-0
	// 3 doc-3
}

// Example_config demonstrates tuning the tiered merge policy.
func Example_config() {
	cfg := segmerge.DefaultConfig()
	cfg.SegmentsPerTier = 5
	cfg.MaxMergeAtOnce = 5
	cfg.NoCFSRatio = 1
	cfg.UseCompoundFile = true
	cfg.CompoundCodec = segmerge.CodecLZ4

	ctx := context.Background()
	idx, err := segmerge.OpenRemote(blobstore.NewMemoryStore(), segmerge.WithConfig(cfg))
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close(ctx, false)

	seg, err := idx.Flush(ctx, testutil.SequentialDocs(10))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("compound:", seg.Compound)

	// Output: compound: true
}
