package depgraph

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"
)

// RenderOptions configures DOT export.
type RenderOptions struct {
	// Detailed includes package versions in node labels. When false, only
	// the package name is shown.
	Detailed bool
}

// ToDOT converts the graph to Graphviz DOT format. Edges point from a
// package to its local dependencies. Packages with native extensions are
// filled to stand out, since they carry the slow builds.
//
// The resulting DOT string can be rendered with [RenderSVG] or fed to an
// external dot binary.
func ToDOT(g *Graph, opts RenderOptions) string {
	var buf bytes.Buffer
	buf.WriteString("digraph packages {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=24, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for _, pkg := range g.Packages() {
		label := pkg.Name
		if opts.Detailed {
			label = pkg.Name + "\n" + pkg.Version.String()
		}
		attrs := []string{fmt.Sprintf("label=%q", label)}
		if pkg.HasNativeExtension {
			attrs = append(attrs, "fillcolor=lightgrey")
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", pkg.Name, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, pkg := range g.Packages() {
		for _, dep := range g.Dependencies(pkg.Name) {
			fmt.Fprintf(&buf, "  %q -> %q;\n", pkg.Name, dep)
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(dot string) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox rewrites the root <svg> tag so the image origin is (0,0)
// and width/height match the viewBox. Graphviz emits pt-based sizes with
// offset origins, which render inconsistently across viewers.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}
