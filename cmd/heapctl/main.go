// Command heapctl is a thin cobra-based driver over the engine's
// packages, replacing the teacher's stdlib flag-based main.go. It holds
// no engine logic of its own: every subcommand opens storage, does one
// operation, and closes it again.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Chocapikk/heapengine/btreeindex"
	"github.com/Chocapikk/heapengine/config"
	"github.com/Chocapikk/heapengine/fsm"
	"github.com/Chocapikk/heapengine/heap"
	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/inspect"
	"github.com/Chocapikk/heapengine/relation"
	"github.com/Chocapikk/heapengine/search"
	"github.com/Chocapikk/heapengine/sequence"
	"github.com/Chocapikk/heapengine/storage"
	"github.com/Chocapikk/heapengine/toast"
	"github.com/Chocapikk/heapengine/txn"
	"github.com/Chocapikk/heapengine/vismap"
	"github.com/Chocapikk/heapengine/wal"
)

var (
	dataDir     string
	natts       int
	pageSize    uint16
	oid         uint32
	configPath  string
	segmented   bool
	segmentSize int64
	walDir      string
	useFSM      bool
	useVismap   bool
	useToast    bool
	useIndex    bool

	cfg = config.Defaults()
)

// loadConfig applies configPath's values (when set) as defaults for any
// flag the user didn't explicitly pass, matching the teacher's
// flag-default convention while finally giving config.Load somewhere to
// be called from.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if configPath == "" {
		return nil
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	flags := cmd.Flags()
	if !flags.Changed("dir") {
		dataDir = cfg.DataDir
	}
	if !flags.Changed("page-size") {
		pageSize = cfg.PageSize
	}
	if !flags.Changed("segmented") {
		segmented = cfg.Segmented
	}
	if !flags.Changed("segment-size") {
		segmentSize = cfg.SegmentSize
	}
	if !flags.Changed("wal-dir") {
		walDir = cfg.WALDir
	}
	return nil
}

// relationDir resolves the on-disk directory a relation's blocks live
// under: dataDir directly when no --oid is given, or a catalog-backed
// subdirectory of dataDir when one is, letting a single data directory
// host more than one relation.
func relationDir() (string, error) {
	if oid == 0 {
		return dataDir, nil
	}
	return relation.ResolveRelation(dataDir, oid)
}

// openStorage opens dir with either DirStorage or SegmentedStorage,
// branching on the --segmented flag (or its config.Config.Segmented
// default) the way config.Config documents.
func openStorage(dir string) (storage.Pager, error) {
	if segmented {
		size := segmentSize
		if size <= 0 {
			size = storage.DefaultSegmentSize
		}
		return storage.OpenSegmented(dir, fmt.Sprintf("%d", oid), pageSize, int(size))
	}
	return storage.OpenDir(dir, pageSize, nil)
}

// openEngine wires every optional heap.Relation collaborator the engine
// supports on top of the resolved relation directory: a WAL when
// --wal-dir is set, and the free-space map, visibility map, TOAST table,
// and secondary index the corresponding --use-* flags enable.
func openEngine() (*heap.Engine, error) {
	dir, err := relationDir()
	if err != nil {
		return nil, err
	}
	pager, err := openStorage(dir)
	if err != nil {
		return nil, err
	}
	rel := relation.Open(natts, pager)
	tm := txn.NewManager()
	h := heap.New(rel, tm, nil)

	if walDir != "" {
		size := cfg.WALSegmentSize
		if size <= 0 {
			size = wal.DefaultSegmentSize
		}
		w, err := wal.Open(walDir, size)
		if err != nil {
			return nil, err
		}
		h.WithWAL(w)
	}
	if useFSM {
		h.WithFSM(fsm.New())
	}
	if useVismap {
		h.WithVisibilityMap(vismap.New())
	}
	if useIndex {
		h.WithIndex(btreeindex.New())
	}
	if useToast {
		t, err := toast.New(oid)
		if err != nil {
			return nil, err
		}
		h.WithToast(t)
	}

	return heap.NewEngine(h), nil
}

func parseCtid(s string) (ids.ItemPointer, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ids.ItemPointer{}, fmt.Errorf("ctid must be block:offset, got %q", s)
	}
	block, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return ids.ItemPointer{}, fmt.Errorf("invalid block in ctid: %w", err)
	}
	offset, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return ids.ItemPointer{}, fmt.Errorf("invalid offset in ctid: %w", err)
	}
	return ids.ItemPointer{Block: ids.BlockNumber(block), Offset: ids.OffsetNumber(offset)}, nil
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Initialize a new relation directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dataDir
			if oid != 0 {
				d, err := relation.RegisterRelation(dataDir, oid)
				if err != nil {
					return err
				}
				dir = d
			}
			pager, err := openStorage(dir)
			if err != nil {
				return err
			}
			_, relNode := relation.Create(dir, natts, pager)
			fmt.Printf("created relation %s (oid=%d, rel_node=%d, natts=%d)\n", dir, oid, relNode, natts)
			return pager.Close()
		},
	}
}

func newInsertCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert one tuple and commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.Begin(); err != nil {
				return err
			}
			ctid, err := e.Insert([]byte(data))
			if err != nil {
				return err
			}
			if err := e.Commit(); err != nil {
				return err
			}
			fmt.Printf("inserted at %s\n", ctid)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "tuple payload")
	return cmd
}

func newGetCmd() *cobra.Command {
	var ctidFlag string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch one tuple by ctid",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctid, err := parseCtid(ctidFlag)
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			tup, ok, err := e.Get(ctid)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("not found")
				return nil
			}
			fmt.Printf("xmin=%d xmax=%d data=%q\n", tup.Header.Xmin, tup.Header.Xmax, string(tup.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&ctidFlag, "ctid", "", "block:offset")
	return cmd
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List every visible row",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			rows, err := e.Scan()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ctid", "xmin", "xmax", "data"})
			for _, r := range rows {
				t.AppendRow(table.Row{r.Ctid.String(), r.Tuple.Header.Xmin, r.Tuple.Header.Xmax, string(r.Tuple.Data)})
			}
			t.Render()
			return nil
		},
	}
}

func newUpdateCmd() *cobra.Command {
	var ctidFlag, data string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update one tuple and commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctid, err := parseCtid(ctidFlag)
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.Begin(); err != nil {
				return err
			}
			newCtid, ok, err := e.Update(ctid, []byte(data))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("not found or not visible")
				return e.Abort()
			}
			if err := e.Commit(); err != nil {
				return err
			}
			fmt.Printf("updated -> %s\n", newCtid)
			return nil
		},
	}
	cmd.Flags().StringVar(&ctidFlag, "ctid", "", "block:offset")
	cmd.Flags().StringVar(&data, "data", "", "new tuple payload")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var ctidFlag string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one tuple and commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctid, err := parseCtid(ctidFlag)
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.Begin(); err != nil {
				return err
			}
			ok, err := e.Delete(ctid)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("not found or not visible")
				return e.Abort()
			}
			return e.Commit()
		},
	}
	cmd.Flags().StringVar(&ctidFlag, "ctid", "", "block:offset")
	return cmd
}

func newVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim dead tuples no snapshot can still see",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			n, err := e.Vacuum()
			if err != nil {
				return err
			}
			fmt.Printf("reclaimed %d tuples\n", n)
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	var rangeFlag string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize page headers over a block range",
		RunE: func(cmd *cobra.Command, args []string) error {
			br, err := inspect.ParseBlockRange(rangeFlag)
			if err != nil {
				return err
			}
			dir, err := relationDir()
			if err != nil {
				return err
			}
			pager, err := openStorage(dir)
			if err != nil {
				return err
			}
			defer pager.Close()
			rel := relation.Open(natts, pager)

			blocks, err := inspect.Blocks(rel, br)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"block", "empty", "items", "free", "flags"})
			for _, b := range blocks {
				t.AppendRow(table.Row{b.BlockNumber, b.IsEmpty, b.ItemCount, b.FreeSpace, b.Flags})
			}
			t.Render()

			stats := inspect.ComputeStats(blocks)
			fmt.Printf("blocks=%d used=%d empty=%d avg_fill=%.1f%%\n",
				stats.TotalBlocks, stats.UsedBlocks, stats.EmptyBlocks, stats.AvgFillPct)
			return nil
		},
	}
	cmd.Flags().StringVar(&rangeFlag, "range", "", "block range, e.g. 0:10")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var pattern string
	var includeDead bool
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search tuple payloads for a regular expression",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := relationDir()
			if err != nil {
				return err
			}
			pager, err := openStorage(dir)
			if err != nil {
				return err
			}
			defer pager.Close()
			rel := relation.Open(natts, pager)
			tm := txn.NewManager()
			h := heap.New(rel, tm, nil)
			tx := txn.Begin(tm)

			results, err := search.Search(h, tx.Snapshot(), tx.Xid, search.Options{
				Pattern:     pattern,
				IncludeDead: includeDead,
			})
			tx.Abort()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ctid", "dead", "matched"})
			for _, r := range results {
				t.AppendRow(table.Row{r.Ctid.String(), r.Dead, r.Matched})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "regular expression")
	cmd.Flags().BoolVar(&includeDead, "include-dead", false, "also search dead, not-yet-vacuumed tuples")
	return cmd
}

func newWalCmd() *cobra.Command {
	walCmd := &cobra.Command{Use: "wal", Short: "Write-ahead log tooling"}

	var dumpDir string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Decode and print every record in the WAL directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := wal.NewReader(dumpDir).Replay()
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"lsn", "prev_lsn", "type", "xid", "block"})
			for _, r := range records {
				t.AppendRow(table.Row{r.LSN, r.PrevLSN, r.Type, r.Xid, r.Block})
			}
			t.Render()
			return nil
		},
	}
	dump.Flags().StringVar(&dumpDir, "wal-dir", "", "directory of .wal segment files")
	walCmd.AddCommand(dump)
	return walCmd
}

func newSequenceCmd() *cobra.Command {
	seqCmd := &cobra.Command{Use: "sequence", Short: "Durable counter tooling"}

	var seqDir string
	next := &cobra.Command{
		Use:   "next",
		Short: "Advance and print a sequence's next value",
		RunE: func(cmd *cobra.Command, args []string) error {
			pager, err := storage.OpenDir(seqDir, pageSize, nil)
			if err != nil {
				return err
			}
			defer pager.Close()

			var seq *sequence.Sequence
			if pager.PageCount() == 0 {
				seq, err = sequence.Create(pager, 1, 1, 1, 1<<62, false)
			} else {
				seq, err = sequence.Open(pager)
			}
			if err != nil {
				return err
			}

			v, err := seq.Next()
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
	next.Flags().StringVar(&seqDir, "dir", "", "sequence storage directory")
	seqCmd.AddCommand(next)
	return seqCmd
}

func main() {
	root := &cobra.Command{
		Use:               "heapctl",
		Short:             "Operate a single-node MVCC heap storage engine",
		PersistentPreRunE: loadConfig,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (see config.Config)")
	root.PersistentFlags().StringVar(&dataDir, "dir", cfg.DataDir, "relation storage directory")
	root.PersistentFlags().IntVar(&natts, "natts", 1, "relation attribute count")
	root.PersistentFlags().Uint32Var(&oid, "oid", 0, "relation oid; when set, resolved through the data directory's catalog")
	root.PersistentFlags().BoolVar(&segmented, "segmented", cfg.Segmented, "use SegmentedStorage instead of one file per block")
	root.PersistentFlags().Int64Var(&segmentSize, "segment-size", cfg.SegmentSize, "segment file size in bytes, when --segmented")
	root.PersistentFlags().StringVar(&walDir, "wal-dir", "", "WAL directory; when set, mutations are logged before acknowledging")
	root.PersistentFlags().BoolVar(&useFSM, "use-fsm", true, "maintain a free-space map for insert placement")
	root.PersistentFlags().BoolVar(&useVismap, "use-vismap", true, "maintain a visibility map to accelerate vacuum")
	root.PersistentFlags().BoolVar(&useToast, "use-toast", true, "automatically TOAST oversized varlena values on InsertRow")
	root.PersistentFlags().BoolVar(&useIndex, "use-index", false, "maintain a secondary byte-key index alongside heap mutations")

	var pageSizeInt int
	root.PersistentFlags().IntVar(&pageSizeInt, "page-size", int(cfg.PageSize), "page size in bytes")
	cobra.OnInitialize(func() { pageSize = uint16(pageSizeInt) })

	root.AddCommand(
		newCreateCmd(),
		newInsertCmd(),
		newGetCmd(),
		newScanCmd(),
		newUpdateCmd(),
		newDeleteCmd(),
		newVacuumCmd(),
		newInspectCmd(),
		newSearchCmd(),
		newWalCmd(),
		newSequenceCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
