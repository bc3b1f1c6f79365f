package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	persistlog "voxelforge.ai/internal/persistence/log"
	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/recipes"
	"voxelforge.ai/internal/sim/recipes/loader"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "validate":
		err = validateCmd(os.Stdout, args)
	case "bundle":
		err = bundleCmd(os.Stdout, args)
	case "describe":
		err = describeCmd(os.Stdout, args)
	case "assemblies":
		err = assembliesCmd(os.Stdout, args)
	case "db":
		err = dbCmd(os.Stdout, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin <validate|bundle|describe|assemblies|db> [flags]")
}

type sourceFlags struct {
	configDir    *string
	defsDir      *string
	orientations *string
}

func addSourceFlags(fs *flag.FlagSet) sourceFlags {
	return sourceFlags{
		configDir:    fs.String("configs", "./configs", "config directory (blocks.json, items.json)"),
		defsDir:      fs.String("recipes", "./configs/recipes", "recipe definitions directory"),
		orientations: fs.String("orientations", "", "default orientation policy for definitions that name none"),
	}
}

func (s sourceFlags) load() (*catalogs.Catalogs, loader.Result, error) {
	cats, err := catalogs.Load(*s.configDir)
	if err != nil {
		return nil, loader.Result{}, fmt.Errorf("load catalogs: %w", err)
	}
	res, err := loader.LoadDir(*s.defsDir, cats.Blocks, loader.Options{Orientations: *s.orientations})
	if err != nil {
		return nil, loader.Result{}, err
	}
	return cats, res, nil
}

// validateCmd loads every definition and reports the ones that fail.
func validateCmd(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	src := addSourceFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	_, res, err := src.load()
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "FAIL %s: %v\n", e.File, e.Err)
	}
	set, err := res.Set()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d files, %d structures, %d tokens, %d failed (digest %s)\n",
		res.Files, set.Len(), set.Tokens().Len(), len(res.Errors), set.Digest())
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d definitions failed", len(res.Errors))
	}
	return nil
}

// bundleCmd compiles a definitions directory into a bundle file. Any
// failed definition aborts the bundle.
func bundleCmd(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("bundle", flag.ContinueOnError)
	src := addSourceFlags(fs)
	outPath := fs.String("out", "", "output bundle path (required)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if strings.TrimSpace(*outPath) == "" {
		return fmt.Errorf("missing -out: %w", errUsage)
	}
	_, res, err := src.load()
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("bundle: %w", res.Errors[0])
	}
	set, err := res.Set()
	if err != nil {
		return err
	}
	if err := loader.WriteBundle(*outPath, set); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s: %d structures, %d tokens (digest %s)\n", *outPath, set.Len(), set.Tokens().Len(), set.Digest())
	return nil
}

// describeCmd prints the compiled form of recipes, from definitions or
// from a bundle.
func describeCmd(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	src := addSourceFlags(fs)
	bundlePath := fs.String("bundle", "", "read recipes from a compiled bundle instead")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var set *recipes.Set
	if *bundlePath != "" {
		cats, err := catalogs.Load(*src.configDir)
		if err != nil {
			return fmt.Errorf("load catalogs: %w", err)
		}
		if set, err = loader.ReadBundle(*bundlePath, cats.Blocks); err != nil {
			return err
		}
	} else {
		_, res, err := src.load()
		if err != nil {
			return err
		}
		if set, err = res.Set(); err != nil {
			return err
		}
	}

	ids := fs.Args()
	if len(ids) == 0 {
		ids = set.IDs()
	}
	for _, id := range ids {
		r, ok := set.Lookup(id)
		if !ok {
			return fmt.Errorf("unknown recipe %q", id)
		}
		describe(out, r)
	}
	return nil
}

func describe(out io.Writer, r *recipes.Recipe) {
	p := r.Pattern()
	res := r.Result()
	fmt.Fprintf(out, "%s -> %s\n", r.ID(), res.Type)
	fmt.Fprintf(out, "  size %dx%dx%d, orientations %s\n", p.Width(), p.Height(), p.Depth(), p.Orientations())
	for i, layer := range p.Layers() {
		for _, row := range layer {
			fmt.Fprintf(out, "  %d| %s\n", i, row)
		}
	}
	var palette []string
	for _, pred := range p.Palette() {
		palette = append(palette, pred.Block())
	}
	if len(palette) > 0 {
		fmt.Fprintf(out, "  palette %s\n", strings.Join(palette, ", "))
	}
	for _, s := range p.Materials() {
		fmt.Fprintf(out, "  material %s\n", s)
	}
	for _, s := range r.Requirements() {
		fmt.Fprintf(out, "  requires %s\n", s)
	}
	if len(res.Payload) > 0 {
		b, _ := json.Marshal(res.Payload)
		fmt.Fprintf(out, "  payload %s\n", b)
	}
}

// assembliesCmd dumps the JSONL assembly log of a world, optionally
// filtered by recipe or outcome code.
func assembliesCmd(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("assemblies", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required)")
	recipeID := fs.String("recipe", "", "recipe id filter")
	code := fs.String("code", "", "outcome code filter (OK for successes)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if strings.TrimSpace(*worldID) == "" {
		return fmt.Errorf("missing -world: %w", errUsage)
	}

	dir := filepath.Join(*dataDir, "worlds", *worldID, "assemblies")
	files, err := persistlog.Files(dir, "assemblies")
	if err != nil {
		return err
	}
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(raw json.RawMessage) error {
			var rec struct {
				RecipeID string `json:"recipe_id"`
				Code     string `json:"code"`
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			if *recipeID != "" && rec.RecipeID != *recipeID {
				return nil
			}
			if c := *code; c != "" && rec.Code != c && !(c == "OK" && rec.Code == "") {
				return nil
			}
			_, err := fmt.Fprintln(out, string(raw))
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
