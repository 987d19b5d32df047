// Command octree_converter is the CLI entry point: it wires the
// attribute planner, chunker, indexer, hierarchy emitter, and metadata
// writer together, mirroring main.go's subcommand-dispatch style in the
// teacher repo (log.SetPrefix/log.SetFlags, a flag-derived options
// struct, glog.Fatal on unrecoverable error, a final LogOutput line).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ecopia-map/octree_converter/internal/attributes"
	"github.com/ecopia-map/octree_converter/internal/chunker"
	"github.com/ecopia-map/octree_converter/internal/codec"
	"github.com/ecopia-map/octree_converter/internal/config"
	"github.com/ecopia-map/octree_converter/internal/geometry"
	"github.com/ecopia-map/octree_converter/internal/hierarchy"
	"github.com/ecopia-map/octree_converter/internal/htmlpage"
	"github.com/ecopia-map/octree_converter/internal/indexer"
	"github.com/ecopia-map/octree_converter/internal/lasio"
	"github.com/ecopia-map/octree_converter/internal/logging"
	"github.com/ecopia-map/octree_converter/internal/metadata"
	"github.com/ecopia-map/octree_converter/internal/monitor"
	"github.com/ecopia-map/octree_converter/internal/sampler"
	"github.com/ecopia-map/octree_converter/internal/writer"
)

// exitOK, exitRuntimeError, and exitConfigError mirror §6's exit-code
// contract: 0 success, 123 unrecoverable error, 1 missing argument.
const (
	exitOK           = 0
	exitRuntimeError = 123
	exitConfigError  = 1
)

func main() {
	glog.CopyStandardLogTo("INFO")

	runID := uuid.NewString()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
	logging.SetSilent(cfg.Silent)

	if cfg.OutDir == "" {
		cfg.OutDir = deriveOutDir(cfg.Source)
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		glog.Errorf("creating output directory %s: %v", cfg.OutDir, err)
		os.Exit(exitRuntimeError)
	}

	logging.LogOutput(fmt.Sprintf("run %s: starting conversion, outdir=%s", runID, cfg.OutDir))

	if err := run(cfg, runID); err != nil {
		glog.Errorf("run %s failed: %v", runID, err)
		os.Exit(exitRuntimeError)
	}
	logging.LogOutput(fmt.Sprintf("run %s: conversion completed", runID))
	os.Exit(exitOK)
}

func run(cfg config.Config, runID string) error {
	ctx := context.Background()

	paths, err := discoverSources(cfg.Source)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no .las/.laz files found under %v", cfg.Source)
	}

	opener := lasio.NewLidarioOpener()
	var sources []lasio.Source
	defer func() {
		for _, s := range sources {
			_ = s.Close()
		}
	}()
	for _, p := range paths {
		s, err := opener.Open(p)
		if err != nil {
			return err
		}
		sources = append(sources, s)
	}

	chunksDir := filepath.Join(cfg.OutDir, "chunks")

	attrs, globalBox, warnings, err := resolveAttributesAndBox(cfg, sources, chunksDir)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		glog.Warningln(w)
	}

	var chunkerResult *chunker.Result
	if !cfg.NoChunking && cfg.ChunkMethod != "SKIP" {
		mon := monitor.New("chunking", 10*time.Second)
		chunkerResult, err = chunker.Run(ctx, sources, attrs, globalBox, cfg.MaxPointsPerChunk, chunksDir, mon)
		mon.Stop()
		if err != nil {
			return fmt.Errorf("chunking: %w", err)
		}
	} else {
		chunkerResult, err = loadExistingChunks(chunksDir, attrs, globalBox)
		if err != nil {
			return fmt.Errorf("loading existing chunks: %w", err)
		}
	}

	var result *indexer.Result
	if !cfg.NoIndexing {
		w, err := writer.New(filepath.Join(cfg.OutDir, "octree.bin"))
		if err != nil {
			return fmt.Errorf("opening octree.bin: %w", err)
		}

		mon := monitor.New("indexing", 10*time.Second)
		result, err = indexer.Run(ctx, chunkerResult.Chunks, indexer.Options{
			Attrs:            attrs,
			MaxPointsPerNode: cfg.MaxPointsPerNode,
			Sampler:          pickSampler(cfg.Method),
			GlobalBox:        globalBox,
			Encoding:         codec.Encoding(strings.ToUpper(cfg.Encoding)),
			Writer:           w,
			Monitor:          mon,
			ChunksDir:        chunksDir,
		})
		mon.Stop()
		closeErr := w.CloseAndWait()
		if err != nil {
			return fmt.Errorf("indexing: %w", err)
		}
		if closeErr != nil {
			return fmt.Errorf("closing octree.bin: %w", closeErr)
		}

		if err := writeHierarchyAndMetadata(cfg, runID, attrs, globalBox, chunkerResult, result); err != nil {
			return err
		}
	}

	if cfg.GeneratePage != "" {
		if _, err := htmlpage.Generate(cfg.OutDir, cfg.GeneratePage, cfg.Title); err != nil {
			return fmt.Errorf("generating viewer page: %w", err)
		}
	}

	if !cfg.KeepChunks {
		if err := os.RemoveAll(chunksDir); err != nil {
			glog.Warningf("removing %s: %v", chunksDir, err)
		}
	}

	printSummary(runID, chunkerResult)
	return nil
}

func writeHierarchyAndMetadata(cfg config.Config, runID string, attrs *attributes.Attributes,
	globalBox geometry.BoundingBox, chunkerResult *chunker.Result, result *indexer.Result) error {

	hf, err := os.Create(filepath.Join(cfg.OutDir, "hierarchy.bin"))
	if err != nil {
		return fmt.Errorf("creating hierarchy.bin: %w", err)
	}
	firstChunkSize, maxDepth, err := hierarchy.Emit(hf, result.Root)
	closeErr := hf.Close()
	if err != nil {
		return fmt.Errorf("writing hierarchy.bin: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing hierarchy.bin: %w", closeErr)
	}

	doc := metadata.Build(filepath.Base(cfg.OutDir), "run "+runID, chunkerResult.PointsTotal, cfg.Projection,
		metadata.Hierarchy{FirstChunkSize: firstChunkSize, StepSize: hierarchy.StepSize, Depth: maxDepth},
		attrs, globalBox, sampler.BaseSpacing(globalBox), strings.ToUpper(cfg.Encoding))

	data, err := metadata.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling metadata.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.OutDir, "metadata.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing metadata.json: %w", err)
	}
	return nil
}

func pickSampler(method string) sampler.Sampler {
	switch method {
	case "poisson_average":
		return &sampler.PoissonAverage{}
	case "random":
		return sampler.NewRandom(1)
	default:
		return &sampler.Poisson{}
	}
}

// resolveAttributesAndBox plans the unified attribute schema and global
// box from the opened sources, unless the chunking phase is being
// skipped, in which case it resumes from the previous run's
// chunks/metadata.json (§6 "--chunkMethod SKIP assumes chunks present").
func resolveAttributesAndBox(cfg config.Config, sources []lasio.Source, chunksDir string) (*attributes.Attributes, geometry.BoundingBox, []string, error) {
	if cfg.NoChunking || cfg.ChunkMethod == "SKIP" {
		data, err := os.ReadFile(filepath.Join(chunksDir, "metadata.json"))
		if err == nil {
			doc, err := metadata.Unmarshal(data)
			if err != nil {
				return nil, geometry.BoundingBox{}, nil, fmt.Errorf("parsing %s/metadata.json: %w", chunksDir, err)
			}
			attrs, err := doc.ToAttributes()
			if err != nil {
				return nil, geometry.BoundingBox{}, nil, err
			}
			return attrs, geometry.BoundingBox{Min: doc.BoundingBox.Min.ToVector3(), Max: doc.BoundingBox.Max.ToVector3()}, nil, nil
		}
	}
	return planFromSources(sources, cfg.Attributes)
}

func planFromSources(sources []lasio.Source, whitelist []string) (*attributes.Attributes, geometry.BoundingBox, []string, error) {
	schemas := make([]attributes.SourceSchema, len(sources))
	var globalBox geometry.BoundingBox
	for i, s := range sources {
		h := s.Header()
		descs, err := s.Attributes()
		if err != nil {
			return nil, geometry.BoundingBox{}, nil, err
		}
		schemas[i] = attributes.SourceSchema{
			Attributes: descs,
			PosScale:   h.PosScale,
			PosOffset:  h.PosOffset,
			GlobalMin:  h.Min,
			GlobalMax:  h.Max,
		}
		box := geometry.NewBoundingBox(h.Min, h.Max)
		if i == 0 {
			globalBox = box
		} else {
			globalBox = globalBox.Union(box)
		}
	}
	globalBox = globalBox.Cubed()

	attrs, warnings, err := attributes.Plan(schemas, whitelist)
	if err != nil {
		return nil, geometry.BoundingBox{}, nil, err
	}
	return attrs, globalBox, warnings, nil
}

// loadExistingChunks rediscovers the chunk list from chunk_<path>.bin
// files already on disk, for --chunkMethod SKIP / --no-chunking resumes
// where the chunker itself does not run this invocation.
func loadExistingChunks(chunksDir string, attrs *attributes.Attributes, globalBox geometry.BoundingBox) (*chunker.Result, error) {
	entries, err := os.ReadDir(chunksDir)
	if err != nil {
		return nil, err
	}
	result := &chunker.Result{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "chunk_") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		path := strings.TrimSuffix(strings.TrimPrefix(name, "chunk_"), ".bin")
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		numPoints := info.Size() / int64(attrs.Bytes)
		box := boxForPath(globalBox, path)
		result.Chunks = append(result.Chunks, chunker.Chunk{Path: path, NumPoints: numPoints, Box: box})
		result.PointsTotal += numPoints
	}
	return result, nil
}

func boxForPath(globalBox geometry.BoundingBox, path string) geometry.BoundingBox {
	box := globalBox
	for i := 1; i < len(path); i++ {
		box = box.Octant(path[i] - '0')
	}
	return box
}

// discoverSources walks each given path one level deep (files are taken
// as-is), keeping .las/.laz entries, per §6 and the teacher's
// tools/file_finder.go GetLasFilesToProcess.
func discoverSources(roots []string) ([]string, error) {
	var out []string
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		if !info.IsDir() {
			if isLasExt(root) {
				out = append(out, root)
			}
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("source: reading %s: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if isLasExt(e.Name()) {
				out = append(out, filepath.Join(root, e.Name()))
			}
		}
	}
	return out, nil
}

func isLasExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".las" || ext == ".laz"
}

func deriveOutDir(sources []string) string {
	if len(sources) == 0 {
		return "out"
	}
	base := filepath.Base(sources[0])
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_converted"
}

func printSummary(runID string, result *chunker.Result) {
	if result == nil {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"run", "chunks", "points", "clamped"})
	t.AppendRow(table.Row{runID, len(result.Chunks), result.PointsTotal, result.ClampedPoints})
	t.Render()
}
