// Command mlsreconstruct drives the out-of-core MLS surface reconstruction
// pipeline end to end: it reads a flat splat file, buckets it into
// GPU-sized pieces, routes each bucket through a CopyGroup/DeviceWorkerGroup/
// MesherGroup pipeline, and writes one Wavefront OBJ file per output chunk.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/MohamedGNabail/mlsgpu/internal/bucket"
	"github.com/MohamedGNabail/mlsgpu/internal/config"
	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/pipeline"
	"github.com/MohamedGNabail/mlsgpu/internal/source"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
	"github.com/MohamedGNabail/mlsgpu/internal/stats"
)

// VERSION is injected by buildflags, matching the teacher's client/server.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "mlsreconstruct"
	myApp.Usage = "out-of-core MLS surface reconstruction"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "input, i",
			Usage: "input splat file (flat binary: position,normal,radius per record)",
		},
		cli.StringFlag{
			Name:  "output, o",
			Value: ".",
			Usage: "output directory for reconstructed mesh chunks",
		},
		cli.StringFlag{
			Name:  "mode",
			Value: "normal",
			Usage: "profiles: fast3, fast2, fast, normal",
		},
		cli.IntFlag{
			Name:  "maxsplats",
			Usage: "override: max splats per bucket",
		},
		cli.Int64Flag{
			Name:  "maxcells",
			Usage: "override: max grid cells per bucket side",
		},
		cli.IntFlag{
			Name:  "maxsplit",
			Usage: "override: max microblocks tiled per bucketing level",
		},
		cli.Int64Flag{
			Name:  "chunkcells",
			Value: 1024,
			Usage: "output chunk tile size, in grid cells",
		},
		cli.Float64Flag{
			Name:  "spacing",
			Value: 1,
			Usage: "reconstruction grid spacing",
		},
		cli.IntFlag{
			Name:  "devices",
			Value: 1,
			Usage: "number of simulated devices to distribute buckets across",
		},
		cli.IntFlag{
			Name:  "itempool",
			Value: 4,
			Usage: "per-device recycled batch pool size",
		},
		cli.IntFlag{
			Name:  "maxitemsplats",
			Value: 1 << 18,
			Usage: "max splats per device batch item",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect stats to CSV file, aware of timeformat in golang",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 30,
			Usage: "stats collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-bucket progress messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		checkError(err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Input = []string{c.String("input")}
	cfg.Output = c.String("output")
	cfg.Mode = c.String("mode")
	cfg.ChunkCells = c.Int64("chunkcells")
	cfg.Spacing = c.Float64("spacing")
	cfg.Devices = c.Int("devices")
	cfg.ItemPool = c.Int("itempool")
	cfg.MaxItemSplats = c.Int("maxitemsplats")
	cfg.StatsLog = c.String("statslog")
	cfg.StatsPeriod = c.Int("statsperiod")
	cfg.Log = c.String("log")
	cfg.Quiet = c.Bool("quiet")

	if c.String("c") != "" {
		if err := config.ParseJSONFile(&cfg, c.String("c")); err != nil {
			return errors.Wrap(err, "parseJSONConfig")
		}
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	cfg.ApplyMode()
	if v := c.Int("maxsplats"); v != 0 {
		cfg.MaxSplats = v
	}
	if v := c.Int64("maxcells"); v != 0 {
		cfg.MaxCells = v
	}
	if v := c.Int("maxsplit"); v != 0 {
		cfg.MaxSplit = v
	}

	if cfg.Input[0] == "" {
		return errors.New("mlsreconstruct: -input is required")
	}
	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	log.Println("version:", VERSION)
	log.Println("mode:", cfg.Mode)
	log.Println("input:", cfg.Input[0])
	log.Println("output:", cfg.Output)
	log.Println("maxsplats:", cfg.MaxSplats, "maxcells:", cfg.MaxCells, "maxsplit:", cfg.MaxSplit)
	log.Println("devices:", cfg.Devices)

	// ScanBounds makes one full pass over the input that records each
	// finite splat's byte offset (not its data) and the running bounding
	// box (BuildBlobIndex below streams the file once more), so the rest of
	// the run never materializes
	// the file's splats in memory -- the out-of-core property the pipeline
	// exists to provide (spec §1).
	offsets, lower, upper, err := source.ScanBounds(cfg.Input[0])
	if err != nil {
		return errors.Wrap(err, "scan input")
	}
	if len(offsets) == 0 {
		color.Yellow("mlsreconstruct: input file contained no usable splats")
		return nil
	}

	grid, err := boundingGrid(lower, upper, cfg.Spacing, blobInternalBucketSize)
	if err != nil {
		return errors.Wrap(err, "compute bounding grid")
	}
	if grid.MaxNumCells() > cfg.MaxCells*4 {
		color.Yellow("mlsreconstruct: input spans %d cells, much larger than maxcells %d; expect deep bucket recursion", grid.MaxNumCells(), cfg.MaxCells)
	}

	const inputFileID = 0
	loader, err := source.OpenIndexed(cfg.Input[0], inputFileID, offsets)
	if err != nil {
		return errors.Wrap(err, "open input for random access")
	}
	defer loader.Close()

	// Best-effort: a pre-built blob index lets the root-level bucketing pass
	// skip a per-splat scan entirely (spec §4.3's fast path). It is never
	// required for correctness -- if it fails to build, or turns out
	// ineligible once bucket.Bucket inspects the grid, bucketing just falls
	// back to scanning splats through loader.
	if runs, err := source.BuildBlobIndex(cfg.Input[0], inputFileID, grid, blobInternalBucketSize, cfg.WorkersEach); err != nil {
		log.Printf("blob index: %v (falling back to per-splat bucketing)", err)
	} else {
		loader.AdoptBlobIndex(runs, blobInternalBucketSize, grid.Spacing)
	}

	sink := newObjSink(cfg.Output)
	devices := make([]pipeline.Device, cfg.Devices)
	for i := range devices {
		devices[i] = newLocalDevice(fmt.Sprintf("device-%d", i))
	}
	chunkSize := [3]int64{cfg.ChunkCells, cfg.ChunkCells, cfg.ChunkCells}
	// Exactly one worker per device: localDevice is a stand-in for a single
	// GPU context, which a real driver would also serialize work onto, so
	// cfg.WorkersEach does not widen device concurrency. It instead sizes
	// the Reader stage's disk-reader pool, where concurrency is actually
	// safe and useful (bucket.Source.Splats is read-only).
	driver := pipeline.NewDriver(devices, sink, chunkSize, cfg.MaxItemSplats, 1, cfg.ItemPool, cfg.WorkersEach)

	stop := make(chan struct{})
	if cfg.StatsLog != "" {
		go stats.Default.CSVLogger(cfg.StatsLog, time.Duration(cfg.StatsPeriod)*time.Second, stop)
	}

	driver.Start()

	ranges := []splat.Range{{FileID: inputFileID, StartIndex: 0, Count: uint64(len(offsets))}}
	limits := bucket.Limits{MaxSplats: cfg.MaxSplats, MaxCells: cfg.MaxCells, MaxSplit: cfg.MaxSplit}

	bucketErr := bucket.Bucket(loader, ranges, grid, limits, driver.BucketProcessor(loader))
	if bucketErr == nil {
		bucketErr = loader.Err()
	}

	stopErr := driver.Stop()
	close(stop)
	closeErr := sink.Close()

	if bucketErr != nil {
		return errors.Wrap(bucketErr, "bucket")
	}
	if stopErr != nil {
		return errors.Wrap(stopErr, "pipeline")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "close output")
	}

	if !cfg.Quiet {
		for _, name := range stats.Default.Names() {
			log.Printf("stat %s = %d", name, stats.Default.Get(name))
		}
	}
	return nil
}

// blobInternalBucketSize is the bucket granularity BuildBlobIndex indexes
// at. It stays fixed and small so boundingGrid's alignment below always
// satisfies blob.FastPathEligible's internalBucketSize-divisibility
// requirement, regardless of spacing or input extent.
const blobInternalBucketSize = 8

// boundingGrid builds the smallest Grid covering [lower, upper], at a fixed
// world reference of {0,0,0} (required for the blob fast path's eligibility
// check, which compares grids by reference equality) and with its lower
// extent rounded down to a multiple of align, so the grid's own origin
// passes blob.FastPathEligible's lower-extent check. bucket.Bucket's root
// call also requires that origin to be a multiple of its microblock size,
// which this rounding guarantees only when that size divides align.
func boundingGrid(lower, upper [3]float64, spacing float64, align int64) (geom.Grid, error) {
	var lo, hi [3]int64
	for i := 0; i < 3; i++ {
		loV := int64(lower[i]/spacing + 0.5)
		hiV := int64(upper[i]/spacing+0.5) + 1
		loV = floorDivInt64(loV, align) * align
		hiV = ceilDivInt64(hiV, align) * align
		if hiV <= loV {
			hiV = loV + align
		}
		lo[i], hi[i] = loV, hiV
	}
	return geom.NewGrid([3]float64{0, 0, 0}, spacing, lo, hi)
}

func floorDivInt64(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDivInt64(a, b int64) int64 {
	return -floorDivInt64(-a, b)
}

func checkError(err error) {
	log.Printf("%+v\n", err)
	os.Exit(-1)
}
