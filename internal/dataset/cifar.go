package dataset

import (
	"context"
	"fmt"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/vk/trainforge/internal/download"
	"github.com/vk/trainforge/internal/fsutil"
	"github.com/vk/trainforge/internal/transform"
)

// CIFAR-10 geometry and statistics.
const (
	CIFAR10Classes    = 10
	CIFAR10Channels   = 3
	CIFAR10Size       = 32
	CIFAR10TrainLen   = 50_000
	CIFAR10EvalLen    = 10_000
	CIFAR10URL        = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	CIFAR10BinaryDir  = "cifar-10-batches-bin"
	cifarArchiveName  = "cifar-10-binary.tar.gz"
	cifarPixels       = CIFAR10Size * CIFAR10Size
	cifarRecordLength = 1 + CIFAR10Channels*cifarPixels
)

var (
	CIFAR10Mean = []float64{0.4914, 0.4822, 0.4465}
	CIFAR10Std  = []float64{0.247, 0.243, 0.261}
)

// CIFAR10Shape is the shape of one CIFAR-10 input.
func CIFAR10Shape() []int { return []int{CIFAR10Channels, CIFAR10Size, CIFAR10Size} }

// CIFAR10Pipeline returns the train or eval transform. Training adds a
// padded random crop and a horizontal flip before normalization; eval
// images are normalized at their own size.
func CIFAR10Pipeline(train bool) *transform.Pipeline {
	p := &transform.Pipeline{Mean: CIFAR10Mean, Std: CIFAR10Std}
	if train {
		p.Ops = []transform.ImageOp{
			transform.RandomCrop{Size: CIFAR10Size, Padding: 4},
			transform.RandomHorizontalFlip{P: 0.5},
		}
	}
	return p
}

// Split names the directory of a split inside an image-folder datadir.
func Split(train bool) string {
	if train {
		return "train"
	}
	return "test"
}

// SourceKind says how CIFAR-10 is stored on disk.
type SourceKind int

const (
	SourceMissing SourceKind = iota
	SourceImageFolder
	SourceBinary
)

func (k SourceKind) String() string {
	switch k {
	case SourceImageFolder:
		return "image-folder"
	case SourceBinary:
		return "binary"
	default:
		return "missing"
	}
}

// LocateCIFAR10 finds the split in datadir. An image folder
// datadir/<split>/ takes precedence over the binary batches.
func LocateCIFAR10(datadir string, train bool) (SourceKind, string) {
	folder := filepath.Join(datadir, Split(train))
	if ok, isDir := fsutil.Exists(folder); ok && isDir {
		return SourceImageFolder, folder
	}
	bin := filepath.Join(datadir, CIFAR10BinaryDir)
	if hasBinaryBatches(bin, train) {
		return SourceBinary, bin
	}
	return SourceMissing, ""
}

// DownloadCIFAR10 fetches the binary archive into datadir and unpacks it.
// An empty url uses CIFAR10URL.
func DownloadCIFAR10(ctx context.Context, fetcher download.Fetcher, url, datadir string) error {
	if url == "" {
		url = CIFAR10URL
	}
	if err := os.MkdirAll(datadir, 0o755); err != nil {
		return fmt.Errorf("creating datadir: %w", err)
	}
	archive := filepath.Join(datadir, cifarArchiveName)
	if err := fetcher.Fetch(ctx, url, archive); err != nil {
		return err
	}
	if err := download.ExtractTarGz(ctx, archive, datadir); err != nil {
		return err
	}
	return os.Remove(archive)
}

func binaryBatchFiles(dir string, train bool) []string {
	if !train {
		return []string{filepath.Join(dir, "test_batch.bin")}
	}
	files := make([]string, 5)
	for i := range files {
		files[i] = filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i+1))
	}
	return files
}

func hasBinaryBatches(dir string, train bool) bool {
	for _, f := range binaryBatchFiles(dir, train) {
		if ok, isDir := fsutil.Exists(f); !ok || isDir {
			return false
		}
	}
	return true
}

// CIFARBinary reads the CIFAR-10 binary format: fixed-size records of one
// label byte followed by the red, green and blue 32×32 planes.
type CIFARBinary struct {
	records  []byte
	n        int
	pipeline *transform.Pipeline
}

// OpenCIFARBinary loads the batches of one split from dir into memory.
func OpenCIFARBinary(dir string, train bool, pipeline *transform.Pipeline) (*CIFARBinary, error) {
	var records []byte
	for _, f := range binaryBatchFiles(dir, train) {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading CIFAR-10 batch: %w", err)
		}
		if len(b)%cifarRecordLength != 0 {
			return nil, fmt.Errorf("CIFAR-10 batch %s: size %d is not a multiple of the %d-byte record", f, len(b), cifarRecordLength)
		}
		records = append(records, b...)
	}
	return &CIFARBinary{records: records, n: len(records) / cifarRecordLength, pipeline: pipeline}, nil
}

func (c *CIFARBinary) Len() int { return c.n }

func (c *CIFARBinary) Get(index int, rng *rand.Rand) (Sample, error) {
	if index < 0 || index >= c.n {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, c.n)
	}
	rec := c.records[index*cifarRecordLength : (index+1)*cifarRecordLength]
	label := int(rec[0])
	if label >= CIFAR10Classes {
		return Sample{}, fmt.Errorf("CIFAR-10 record %d has label %d", index, label)
	}
	t, err := c.pipeline.Apply(decodeRecord(rec[1:]), rng)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Input: t, Label: label, SuppLabel: NoSuppLabel}, nil
}

func decodeRecord(planes []byte) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, CIFAR10Size, CIFAR10Size))
	for i := 0; i < cifarPixels; i++ {
		img.Pix[i*4] = planes[i]
		img.Pix[i*4+1] = planes[cifarPixels+i]
		img.Pix[i*4+2] = planes[2*cifarPixels+i]
		img.Pix[i*4+3] = 0xff
	}
	return img
}
