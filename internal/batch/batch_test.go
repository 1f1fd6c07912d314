package batch

import (
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imageencrypt "github.com/zhulinyv/anr-plugin-image-encrypt"
	"github.com/zhulinyv/anr-plugin-image-encrypt/internal/codec"
)

func testImage(width, height int, seed uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x*3) + seed, G: uint8(y*5) ^ seed, B: uint8(x * y), A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img *image.RGBA) {
	t.Helper()
	require.NoError(t, codec.Encode(path, img, codec.Metadata{}, codec.Options{}))
}

func quietLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type stopHook struct {
	message string
	stop    *atomic.Bool
}

func (h stopHook) Run(_ *zerolog.Event, _ zerolog.Level, msg string) {
	if msg == h.message {
		h.stop.Store(true)
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("dir", "cat_encrypt.png"), OutputPath(filepath.Join("dir", "cat.png"), imageencrypt.Forward))
	assert.Equal(t, filepath.Join("dir", "cat_encrypt_decrypt.jpg"), OutputPath(filepath.Join("dir", "cat_encrypt.jpg"), imageencrypt.Inverse))
	assert.Equal(t, "noext_encrypt", OutputPath("noext", imageencrypt.Forward))
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	paths, err := Collect(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.png")}, paths)

	paths, err = Collect(dir, "single.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"single.png"}, paths)

	_, err = Collect("", "")
	assert.Error(t, err)
}

func TestCollectFollowsSymlinks(t *testing.T) {
	src := filepath.Join(t.TempDir(), "real.png")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	dir := t.TempDir()
	link := filepath.Join(dir, "link.png")
	if err := os.Symlink(src, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.png"), filepath.Join(dir, "dangling.png")))
	require.NoError(t, os.Symlink(t.TempDir(), filepath.Join(dir, "subdir")))

	paths, err := Collect(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{link}, paths)
}

func TestRunRoundTrip(t *testing.T) {
	dir := t.TempDir()
	originals := map[string]*image.RGBA{}
	var paths []string
	for i, size := range [][2]int{{17, 9}, {8, 8}, {1, 6}} {
		path := filepath.Join(dir, string(rune('a'+i))+".png")
		img := testImage(size[0], size[1], uint8(i*40))
		writePNG(t, path, img)
		originals[path] = img
		paths = append(paths, path)
	}
	bogus := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(bogus, []byte("not a png"), 0o644))
	paths = append(paths, bogus)

	var notified []Summary
	runner := NewRunner(Config{
		Workers:     2,
		PreviewSize: 32,
		FuzzyHash:   true,
		Logger:      quietLogger(),
		Notifier:    NotifierFunc(func(s Summary) { notified = append(notified, s) }),
	})

	enc := runner.Run(context.Background(), paths, imageencrypt.Forward)
	require.Len(t, notified, 1)
	assert.Equal(t, 3, enc.Succeeded)
	assert.Equal(t, 1, enc.Failed)
	assert.False(t, enc.Cancelled)
	assert.NotEmpty(t, enc.RunID)
	assert.ErrorIs(t, enc.Results[3].Err, codec.ErrUnsupportedFormat)
	require.Len(t, enc.Outputs(), 3)

	for _, res := range enc.Results[:3] {
		assert.NotZero(t, res.Checksum)
		require.NotNil(t, res.Preview)
		assert.LessOrEqual(t, res.Preview.Bounds().Dx(), 32)
	}

	dec := runner.Run(context.Background(), enc.Outputs(), imageencrypt.Inverse)
	require.Len(t, notified, 2)
	require.Equal(t, 3, dec.Succeeded)

	for i, res := range dec.Results {
		img, err := codec.Decode(res.Output)
		require.NoError(t, err)
		assert.Equal(t, originals[paths[i]].Pix, img.Pixels.Pix, res.Output)
	}
}

func TestRunScramblesPixels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.png")
	src := testImage(10, 6, 7)
	writePNG(t, path, src)

	runner := NewRunner(Config{Logger: quietLogger()})
	res := runner.Process(path, imageencrypt.Forward)
	require.NoError(t, res.Err)
	assert.Equal(t, filepath.Join(dir, "x_encrypt.png"), res.Output)

	img, err := codec.Decode(res.Output)
	require.NoError(t, err)
	assert.NotEqual(t, src.Pix, img.Pixels.Pix)
}

func TestRunStopFlag(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 4; i++ {
		path := filepath.Join(dir, string(rune('a'+i))+".png")
		writePNG(t, path, testImage(5, 5, uint8(i)))
		paths = append(paths, path)
	}

	var stop atomic.Bool
	logger := zerolog.New(io.Discard).Hook(stopHook{message: "encrypt done", stop: &stop})
	notified := 0
	runner := NewRunner(Config{
		Workers:  1,
		Stop:     &stop,
		Logger:   &logger,
		Notifier: NotifierFunc(func(Summary) { notified++ }),
	})

	summary := runner.Run(context.Background(), paths, imageencrypt.Forward)
	assert.Equal(t, 1, notified)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 3, summary.Skipped)
	for _, res := range summary.Results[1:] {
		assert.ErrorIs(t, res.Err, ErrStopped)
		_, err := os.Stat(OutputPath(res.Input, imageencrypt.Forward))
		assert.ErrorIs(t, err, os.ErrNotExist)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notified := 0
	runner := NewRunner(Config{
		Logger:   quietLogger(),
		Notifier: NotifierFunc(func(Summary) { notified++ }),
	})
	summary := runner.Run(ctx, []string{"a.png", "b.png"}, imageencrypt.Inverse)
	assert.Equal(t, 1, notified)
	assert.Equal(t, 2, summary.Skipped)
	assert.Empty(t, summary.Outputs())
}
