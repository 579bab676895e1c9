package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/vk/trainforge/internal/fsutil"
	"github.com/vk/trainforge/internal/transform"
)

// ImageExtensions are the file extensions ImageFolder picks up.
var ImageExtensions = []string{".png", ".jpg", ".jpeg"}

type imageEntry struct {
	path  string
	label int
	supp  int
}

// ImageFolder is a dataset laid out as root/<class>/<image>. Classes are
// the sorted subdirectory names; a class label is its position in that
// order.
type ImageFolder struct {
	root     string
	classes  []string
	entries  []imageEntry
	pipeline *transform.Pipeline
}

// OpenImageFolder indexes the images under root.
func OpenImageFolder(root string, pipeline *transform.Pipeline) (*ImageFolder, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading image folder: %w", err)
	}
	f := &ImageFolder{root: root, pipeline: pipeline}
	for _, d := range dirents {
		if d.IsDir() {
			f.classes = append(f.classes, d.Name())
		}
	}
	slices.Sort(f.classes)
	if len(f.classes) == 0 {
		return nil, fmt.Errorf("image folder %s has no class directories", root)
	}

	for label, class := range f.classes {
		files, err := fsutil.FindFilesByExtension(filepath.Join(root, class), ImageExtensions...)
		if err != nil {
			return nil, fmt.Errorf("indexing class %q: %w", class, err)
		}
		for _, p := range files {
			f.entries = append(f.entries, imageEntry{path: p, label: label, supp: NoSuppLabel})
		}
	}
	if len(f.entries) == 0 {
		return nil, fmt.Errorf("image folder %s contains no images", root)
	}
	return f, nil
}

func (f *ImageFolder) Len() int { return len(f.entries) }

// Classes returns the class names in label order.
func (f *ImageFolder) Classes() []string { return slices.Clone(f.classes) }

func (f *ImageFolder) Get(index int, rng *rand.Rand) (Sample, error) {
	if index < 0 || index >= len(f.entries) {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(f.entries))
	}
	e := f.entries[index]
	img, err := imgio.Open(e.path)
	if err != nil {
		return Sample{}, fmt.Errorf("decoding %s: %w", e.path, err)
	}
	t, err := f.pipeline.Apply(img, rng)
	if err != nil {
		return Sample{}, fmt.Errorf("transforming %s: %w", e.path, err)
	}
	return Sample{Input: t, Label: e.label, SuppLabel: e.supp}, nil
}

// LoadSuppLabels attaches supplementary labels read from a CSV file of
// "relative_path,label" rows. Paths are relative to the folder root. A
// header row is skipped when its label column is not an integer. Images
// without a row keep NoSuppLabel; rows naming unknown images are an error.
func (f *ImageFolder) LoadSuppLabels(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening supplementary labels: %w", err)
	}
	defer file.Close()

	byPath := make(map[string]int, len(f.entries))
	for i, e := range f.entries {
		rel, err := filepath.Rel(f.root, e.path)
		if err != nil {
			return err
		}
		byPath[filepath.ToSlash(rel)] = i
	}

	r := csv.NewReader(file)
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true
	var problems []string
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading supplementary labels: %w", err)
		}
		label, convErr := strconv.Atoi(strings.TrimSpace(rec[1]))
		if convErr != nil {
			if line == 1 {
				continue
			}
			problems = append(problems, fmt.Sprintf("line %d: label %q is not an integer", line, rec[1]))
			continue
		}
		i, ok := byPath[filepath.ToSlash(filepath.Clean(strings.TrimSpace(rec[0])))]
		if !ok {
			problems = append(problems, fmt.Sprintf("line %d: no image %q in %s", line, rec[0], f.root))
			continue
		}
		f.entries[i].supp = label
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid supplementary labels in %s:\n- %s", path, strings.Join(problems, "\n- "))
	}
	return nil
}
