// Package main implements the genconfig tool that writes config.default.toml
// from config.ExampleConfig() annotated with config.ConfigDocs.
//
// It is invoked by go generate via the directive in internal/config/config.go.
// With -check it exits non-zero when the file on disk is stale instead of
// rewriting it.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"tools.zach/dev/sigmsg/internal/config"
)

func main() {
	// go generate runs from internal/config/, two levels below the module root
	// where configdata.go embeds the file.
	outPath := flag.String("o", "../../config.default.toml", "output path")
	check := flag.Bool("check", false, "verify the output file is up to date instead of writing it")
	flag.Parse()

	result, err := render(config.ExampleConfig(), config.ConfigDocs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "render: %v\n", err)
		os.Exit(1)
	}

	if *check {
		current, err := os.ReadFile(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", *outPath, err)
			os.Exit(1)
		}
		if !bytes.Equal(current, []byte(result)) {
			fmt.Fprintf(os.Stderr, "%s is stale; run go generate ./internal/config\n", *outPath)
			os.Exit(1)
		}
		return
	}

	if err := os.WriteFile(*outPath, []byte(result), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *outPath)
}

// render encodes cfg and interleaves the comments and commented-out
// alternatives from docs. Documented keys the encoder omitted still appear, as
// comments, at the end of their section.
func render(cfg *config.Config, docs map[string]config.FieldDoc) (string, error) {
	var raw bytes.Buffer
	if err := toml.NewEncoder(&raw).Encode(cfg); err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	out := []string{
		"# ///////////////////////////////////////////////",
		"# sigmsg Configuration",
		"# ///////////////////////////////////////////////",
		"",
	}
	var section []string
	emitted := map[string]bool{}

	for line := range strings.SplitSeq(raw.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "[[") {
			out = appendOmitted(out, section, docs, emitted)

			name := strings.Trim(trimmed, "[] ")
			section = parseSectionPath(name)
			out = append(out, "", fmt.Sprintf("# ///// %s /////", sectionName(name)), "")
			if doc, ok := docs[name]; ok {
				out = appendComment(out, doc.Comment)
			}
			out = append(out, trimmed)
			continue
		}

		if !strings.Contains(trimmed, "=") || strings.HasPrefix(trimmed, "#") {
			out = append(out, trimmed)
			continue
		}

		key := strings.TrimSpace(strings.SplitN(trimmed, "=", 2)[0])
		path := strings.Join(append(slices.Clone(section), key), ".")
		emitted[path] = true

		doc := docs[path]
		out = appendComment(out, doc.Comment)
		out = append(out, trimmed)
		for _, alt := range doc.Alternatives {
			out = append(out, "# "+alt)
		}
	}
	out = appendOmitted(out, section, docs, emitted)

	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n", nil
}

func appendComment(out []string, comment string) []string {
	if comment == "" {
		return out
	}
	for cl := range strings.SplitSeq(comment, "\n") {
		out = append(out, strings.TrimRight("# "+cl, " "))
	}
	return out
}

// appendOmitted adds commented entries for documented keys of the current
// section that the encoder did not emit, sorted by key.
func appendOmitted(out []string, section []string, docs map[string]config.FieldDoc, emitted map[string]bool) []string {
	if len(section) == 0 {
		return out
	}
	prefix := strings.Join(section, ".") + "."

	var omitted []string
	for path := range docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, ".") || emitted[path] {
			continue
		}
		omitted = append(omitted, path)
	}
	slices.Sort(omitted)

	for _, path := range omitted {
		doc := docs[path]
		out = append(out, "")
		out = appendComment(out, doc.Comment)
		for _, alt := range doc.Alternatives {
			out = append(out, "# "+alt)
		}
		emitted[path] = true
	}
	return out
}

// parseSectionPath splits a dotted TOML section header into its segments.
func parseSectionPath(section string) []string {
	return strings.Split(section, ".")
}

// sectionName returns the last segment of a section header, capitalized.
// For example, "watch" yields "Watch".
func sectionName(section string) string {
	parts := strings.Split(section, ".")
	last := parts[len(parts)-1]
	if len(last) == 0 {
		return ""
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
