// Package htmlpage implements the optional viewer page generation named
// in spec §6 (-p/--generate-page, --title) and PotreeConverter.h's
// pointclouds/<name>/ nesting convention (SUPPLEMENTED FEATURES #2): a
// static HTML template with three placeholder tokens rewritten in place,
// the same copy-and-substitute approach the teacher's tools/io.go uses
// for directory setup before writing output files.
package htmlpage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ecopia-map/octree_converter/internal/octree"
)

const template = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title><!-- NAME --></title>
  <script src="https://cdn.jsdelivr.net/npm/potree@2/build/potree/potree.js"></script>
</head>
<body>
  <div id="potree_render_area"></div>
  <script>
    window.viewer = new Potree.Viewer(document.getElementById("potree_render_area"));
    viewer.loadGUI();
    Potree.loadPointCloud("<!-- URL -->", "<!-- NAME -->", function (e) {
      viewer.scene.addPointCloud(e.pointcloud);
      viewer.fitToScreen();
    });
    <!-- INCLUDE POINTCLOUD -->
  </script>
</body>
</html>
`

// Generate writes the viewer page for a finished conversion under
// outDir/pointclouds/<name>/index.html, rewriting the three placeholder
// tokens the original template defines (§6).
func Generate(outDir, name, title string) (string, error) {
	if title == "" {
		title = name
	}
	dir := filepath.Join(outDir, "pointclouds", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("htmlpage: creating %s: %w", dir, err)
	}

	page := template
	page = strings.ReplaceAll(page, "<!-- NAME -->", title)
	page = strings.ReplaceAll(page, "<!-- URL -->", "./metadata.json")
	page = strings.ReplaceAll(page, "<!-- INCLUDE POINTCLOUD -->", "")

	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return "", fmt.Errorf("htmlpage: writing %s: %w", path, err)
	}
	return path, nil
}

// DumpNodePLY writes an ASCII PLY point cloud of a single node's
// already-decoded points, for visual QA of a sampled node outside the
// Potree viewer, mirroring the teacher's internal/io debug PLY export
// path (std_consumer.go's writePlyFile) but against this converter's own
// node type instead of content.pnts' intermediate buffer.
func DumpNodePLY(path string, n *octree.Node, positions []Vec3, colors []Color) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("htmlpage: creating %s: %w", path, err)
	}
	defer f.Close()

	w := plyDoc{positions: positions, colors: colors}
	if err := w.write(f); err != nil {
		return fmt.Errorf("htmlpage: writing ply for node %s: %w", n.Name, err)
	}
	return nil
}

// Vec3 and Color are the minimal per-vertex payload DumpNodePLY accepts;
// callers decode a node's packed record buffer into these before calling.
type Vec3 struct{ X, Y, Z float64 }
type Color struct{ R, G, B uint8 }

// plyDoc renders a minimal ASCII PLY element list directly: the ASCII
// PLY format is a handful of header lines plus one row per vertex, and
// no copy of github.com/cobaltgray/go-plyfile's source was available to
// confirm its call surface (see DESIGN.md), so this writes the format by
// hand rather than guess at an unverifiable API.
type plyDoc struct {
	positions []Vec3
	colors    []Color
}

func (d plyDoc) write(f *os.File) error {
	fmt.Fprintln(f, "ply")
	fmt.Fprintln(f, "format ascii 1.0")
	fmt.Fprintf(f, "element vertex %d\n", len(d.positions))
	fmt.Fprintln(f, "property float x")
	fmt.Fprintln(f, "property float y")
	fmt.Fprintln(f, "property float z")
	hasColor := len(d.colors) == len(d.positions) && len(d.colors) > 0
	if hasColor {
		fmt.Fprintln(f, "property uchar red")
		fmt.Fprintln(f, "property uchar green")
		fmt.Fprintln(f, "property uchar blue")
	}
	fmt.Fprintln(f, "end_header")
	for i, p := range d.positions {
		if hasColor {
			c := d.colors[i]
			fmt.Fprintf(f, "%g %g %g %d %d %d\n", p.X, p.Y, p.Z, c.R, c.G, c.B)
		} else {
			fmt.Fprintf(f, "%g %g %g\n", p.X, p.Y, p.Z)
		}
	}
	return nil
}
