// Command partstore inspects and maintains partitioned stores with uint64
// keys and string value sets, partitioned by a single date segment.
package main

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bsm/partstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type store = partstore.Store[uint64, string, string]

func main() {
	if err := newApp(os.Stdin, os.Stdout).Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp(stdin io.Reader, stdout io.Writer) *cli.App {
	dateFlag := &cli.StringFlag{Name: "date", Usage: "catalog partition, e.g. 20240301", Required: true}

	return &cli.App{
		Name:   "partstore",
		Usage:  "inspect and maintain partitioned stores",
		Reader: stdin,
		Writer: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "store root folder", Required: true, EnvVars: []string{"PARTSTORE_ROOT"}},
			&cli.IntFlag{Name: "buckets", Usage: "number of buckets per partition", Value: 64},
			&cli.IntFlag{Name: "step", Usage: "sparse index step, 0 disables indexing", Value: 16},
			&cli.IntFlag{Name: "parallelism", Usage: "maximum parallelism"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:   "partitions",
				Usage:  "list partitions",
				Action: withStore(partitions),
			},
			{
				Name:   "stats",
				Usage:  "show bucket stats of a partition",
				Flags:  []cli.Flag{dateFlag},
				Action: withStore(stats),
			},
			{
				Name:   "import",
				Usage:  "import tab-separated key/value lines from stdin and compact",
				Flags:  []cli.Flag{dateFlag, &cli.BoolFlag{Name: "merge", Usage: "merge into compacted buckets"}},
				Action: withStore(importLines),
			},
			{
				Name:      "find",
				Usage:     "look up keys",
				ArgsUsage: "KEY...",
				Flags:     []cli.Flag{dateFlag},
				Action:    withStore(find),
			},
			{
				Name:   "scan",
				Usage:  "count records and distinct keys, bypassing indexes",
				Flags:  []cli.Flag{dateFlag},
				Action: withStore(scan),
			},
			{
				Name:      "remove",
				Usage:     "remove keys and rebuild indexes",
				ArgsUsage: "KEY...",
				Flags:     []cli.Flag{dateFlag},
				Action:    withStore(remove),
			},
			{
				Name:   "reindex",
				Usage:  "rebuild indexes of a partition",
				Flags:  []cli.Flag{dateFlag},
				Action: withStore(reindex),
			},
			{
				Name:   "drop",
				Usage:  "delete a partition",
				Flags:  []cli.Flag{dateFlag},
				Action: withStore(drop),
			},
		},
	}
}

func openStore(c *cli.Context) (*store, error) {
	logger := logrus.New()
	logger.SetOutput(c.App.ErrWriter)
	if c.Bool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}

	return partstore.New(&partstore.Options[uint64, string, string]{
		Root: c.String("root"),
		CatalogExtractors: []partstore.CatalogExtractor[string]{
			func(date string) string { return date },
		},
		FileExtractor:  partstore.ModuloBucket[string](c.Int("buckets")),
		Compare:        cmp.Compare[uint64],
		KeyCodec:       partstore.Uint64Codec{},
		ValueCodec:     partstore.StringCodec{},
		Merger:         partstore.NewSetMerger[string](partstore.StringCodec{}),
		IndexStep:      c.Int("step"),
		IndexCache:     true,
		ThreadSafe:     true,
		MaxParallelism: c.Int("parallelism"),
		Logger:         logger,
	})
}

func withStore(fn func(*cli.Context, *store) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		return fn(c, s)
	}
}

func partitions(c *cli.Context, s *store) error {
	names, err := s.Partitions()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(c.App.Writer, name)
	}
	return nil
}

func stats(c *cli.Context, s *store) error {
	buckets, err := s.Stats(c.String("date"))
	if err != nil {
		return err
	}
	for _, b := range buckets {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d\t%s\n", b.Name, b.State, b.Records, b.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

type writer interface {
	Store(key uint64, value string) error
	Compress() error
	TotalRecords() int64
}

func importLines(c *cli.Context, s *store) error {
	var w writer = s.Builder(c.String("date"))
	if c.Bool("merge") {
		w = s.MergeAccessor(c.String("date"))
	}

	scanner := bufio.NewScanner(c.App.Reader)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if line == "" {
			continue
		}

		k, v, ok := strings.Cut(line, "\t")
		if !ok {
			return errors.Errorf("line %d: missing tab separator", lineNo)
		}
		key, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "line %d", lineNo)
		}
		if err := w.Store(key, v); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := w.Compress(); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "imported %d records\n", w.TotalRecords())
	return nil
}

func parseKeys(c *cli.Context) ([]uint64, error) {
	if c.NArg() == 0 {
		return nil, errors.New("no keys given")
	}

	keys := make([]uint64, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		key, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid key %q", arg)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func find(c *cli.Context, s *store) error {
	keys, err := parseKeys(c)
	if err != nil {
		return err
	}

	acc := s.Accessor(c.String("date"))
	defer acc.Close()

	for _, key := range keys {
		values, found, err := acc.FindValues(key)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(c.App.Writer, "%d\t(not found)\n", key)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%d\t%s\n", key, strings.Join(values, ","))
	}
	return nil
}

func scan(c *cli.Context, s *store) error {
	sources := make(map[partstore.RecordSource]int)
	iter := s.Bypass(c.String("date"))
	for iter.Next() {
		sources[iter.Source()]++
	}
	if err := iter.Err(); err != nil {
		return err
	}
	iter.Release()

	distinct, err := s.Bypass(c.String("date")).CountDistinct()
	if err != nil {
		return err
	}

	for _, src := range []partstore.RecordSource{partstore.SourceData, partstore.SourceRaw, partstore.SourceMerge} {
		fmt.Fprintf(c.App.Writer, "%s\t%d\n", src, sources[src])
	}
	fmt.Fprintf(c.App.Writer, "distinct\t%d\n", distinct)
	return nil
}

func remove(c *cli.Context, s *store) error {
	keys, err := parseKeys(c)
	if err != nil {
		return err
	}

	acc := s.Accessor(c.String("date"))
	defer acc.Close()

	if err := acc.RemoveKeys(keys); err != nil {
		return err
	}
	return acc.RebuildIndex()
}

func reindex(c *cli.Context, s *store) error {
	acc := s.Accessor(c.String("date"))
	defer acc.Close()

	return acc.RebuildIndex()
}

func drop(c *cli.Context, s *store) error {
	return s.Drop(c.String("date"))
}
