package charafile

import (
	"context"
	"crypto/sha1" //nolint:gosec // test fixture hashing
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/event"
	"github.com/meigma/assetcache/index"
)

type fixture struct {
	manager  *Manager
	files    *index.Manager
	cacheDir string
	scratch  string
	outDir   string
	bus      *event.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")
	require.NoError(t, os.MkdirAll(cacheDir, 0o700))

	files := index.NewManager(index.NewMemoryStore(), cacheDir)
	bus := event.NewBus()
	scratch := filepath.Join(root, "scratch")
	return &fixture{
		manager:  NewManager(files, scratch, WithBus(bus)),
		files:    files,
		cacheDir: cacheDir,
		scratch:  scratch,
		outDir:   filepath.Join(root, "out"),
		bus:      bus,
	}
}

// addCached writes content into the cache directory and indexes it.
func (f *fixture) addCached(t *testing.T, content string) string {
	t.Helper()
	sum := sha1.Sum([]byte(content)) //nolint:gosec // test fixture hashing
	hash := hex.EncodeToString(sum[:])
	path := filepath.Join(f.cacheDir, hash)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	_, _, err := f.files.Ingest(context.Background(), path)
	require.NoError(t, err)
	return hash
}

func TestSaveLoadApply(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	alpha := strings.Repeat("a", 100)
	bravo := strings.Repeat("b", 50)
	ha := f.addCached(t, alpha)
	hb := f.addCached(t, bravo)

	data := CharacterData{
		Description:      "outfit",
		AppearanceData:   "glamour",
		ScalingData:      "scale",
		ManipulationData: "manip",
		Files: []FileReplacement{
			{Hash: ha, GamePaths: []string{"chara/a.tex"}},
			{Hash: hb, GamePaths: []string{"chara/b.mdl"}},
			{Hash: strings.ToUpper(ha), GamePaths: []string{"chara/a2.tex", "chara/a.tex"}},
		},
		FileSwaps: []FileSwap{{GamePaths: []string{"chara/c.tex"}, Target: "chara/a.tex"}},
	}

	out := filepath.Join(f.outDir, "outfit.mcdf")
	res, err := f.manager.Save(context.Background(), out, data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Empty(t, res.Skipped)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, digest.FromBytes(raw), res.Digest)
	assert.Equal(t, int64(len(raw)), res.Size)
	_, err = os.Stat(out + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)

	loaded, err := f.manager.Load(out)
	require.NoError(t, err)
	assert.Equal(t, int64(150), loaded.ExpectedLength)
	require.Len(t, loaded.Header.Files, 2)
	assert.Equal(t, []string{"chara/a.tex", "chara/a2.tex"}, loaded.Header.Files[0].GamePaths)
	assert.Equal(t, "outfit", loaded.Header.Description)

	app, err := f.manager.Apply(context.Background(), "Some Target/x", loaded)
	require.NoError(t, err)
	assert.Len(t, app.Files, 3)
	assert.Equal(t, map[string]string{"chara/c.tex": "chara/a.tex"}, app.Swaps)
	assert.Len(t, app.Paths, 4)
	assert.Equal(t, "manip", app.ManipulationData)
	assert.Equal(t, "glamour", app.AppearanceData)
	assert.Equal(t, "scale", app.ScalingData)

	assert.Equal(t, filepath.Join(f.scratch, "Some_Target_x_mcdf_0.tmp"), app.Files["chara/a.tex"])
	got, err := os.ReadFile(app.Files["chara/a2.tex"])
	require.NoError(t, err)
	assert.Equal(t, alpha, string(got))
	got, err = os.ReadFile(app.Files["chara/b.mdl"])
	require.NoError(t, err)
	assert.Equal(t, bravo, string(got))

	again, err := f.manager.Apply(context.Background(), "Some Target/x", loaded)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.scratch, "Some_Target_x_mcdf_2.tmp"), again.Files["chara/a.tex"])
	assert.False(t, f.manager.Working())
}

func TestSaveExtractedFilesWinOverSwaps(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	h := f.addCached(t, "content")

	out := filepath.Join(f.outDir, "conflict.mcdf")
	_, err := f.manager.Save(context.Background(), out, CharacterData{
		Files:     []FileReplacement{{Hash: h, GamePaths: []string{"x.tex"}}},
		FileSwaps: []FileSwap{{GamePaths: []string{"x.tex"}, Target: "y.tex"}},
	})
	require.NoError(t, err)

	loaded, err := f.manager.Load(out)
	require.NoError(t, err)
	app, err := f.manager.Apply(context.Background(), "t", loaded)
	require.NoError(t, err)
	assert.Equal(t, app.Files["x.tex"], app.Paths["x.tex"])
}

func TestSaveSkipsUnresolvedHashes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	h := f.addCached(t, "present")
	missing := strings.Repeat("0", 40)

	res, err := f.manager.Save(context.Background(), filepath.Join(f.outDir, "partial.mcdf"), CharacterData{
		Files: []FileReplacement{
			{Hash: missing, GamePaths: []string{"gone.tex"}},
			{Hash: h, GamePaths: []string{"here.tex"}},
			{Hash: "not-a-hash", GamePaths: []string{"bad.tex"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, []string{missing, "not-a-hash"}, res.Skipped)
}

func TestSaveFailureKeepsDestination(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	h := f.addCached(t, "payload")

	out := filepath.Join(f.outDir, "existing.mcdf")
	require.NoError(t, os.MkdirAll(f.outDir, 0o755))
	require.NoError(t, os.WriteFile(out, []byte("keep"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.manager.Save(ctx, out, CharacterData{
		Files: []FileReplacement{{Hash: h, GamePaths: []string{"p.tex"}}},
	})
	require.ErrorIs(t, err, context.Canceled)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(got))
	_, err = os.Stat(out + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyTruncatedPublishesFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	h := f.addCached(t, strings.Repeat("z", 200))

	out := filepath.Join(f.outDir, "truncated.mcdf")
	_, err := f.manager.Save(context.Background(), out, CharacterData{
		Files: []FileReplacement{{Hash: h, GamePaths: []string{"z.tex"}}},
	})
	require.NoError(t, err)

	// Re-wrap the archive without the tail of its payload.
	compressed, err := os.ReadFile(out)
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	raw, err := dec.DecodeAll(compressed, nil)
	dec.Close()
	require.NoError(t, err)
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(out, enc.EncodeAll(raw[:len(raw)-50], nil), 0o644))
	enc.Close()

	ch, unsubscribe := f.bus.Subscribe(1)
	defer unsubscribe()

	loaded, err := f.manager.Load(out)
	require.NoError(t, err)
	_, err = f.manager.Apply(context.Background(), "victim", loaded)
	require.ErrorIs(t, err, archive.ErrTruncated)

	msg := <-ch
	assert.Equal(t, event.ArchiveFailed, msg.Kind)
	assert.Equal(t, out, msg.Path)
	assert.Equal(t, "victim", msg.Target)
	assert.Equal(t, int64(200), msg.ExpectedLength)
	require.ErrorIs(t, msg.Err, archive.ErrTruncated)
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	path := filepath.Join(t.TempDir(), "garbage.mcdf")
	require.NoError(t, os.WriteFile(path, []byte("definitely not an archive"), 0o644))

	loaded, err := f.manager.Load(path)
	require.ErrorIs(t, err, archive.ErrBadMagic)
	assert.Nil(t, loaded)
}

func TestBusy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.manager.working.Store(true)

	assert.True(t, f.manager.Working())
	_, err := f.manager.Save(context.Background(), filepath.Join(f.outDir, "x.mcdf"), CharacterData{})
	require.ErrorIs(t, err, ErrBusy)
	_, err = f.manager.Load("whatever")
	require.ErrorIs(t, err, ErrBusy)
	_, err = f.manager.Apply(context.Background(), "t", &Loaded{})
	require.ErrorIs(t, err, ErrBusy)
}

func TestCleanScratch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.scratch, 0o700))

	for _, name := range []string{"a_mcdf_0.tmp", "b_mcdf_12.tmp", "keep.tmp", "a_mcdf_1.bin"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.scratch, name), nil, 0o600))
	}

	n, err := f.manager.CleanScratch()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Some_Target", sanitize("Some Target"))
	assert.Equal(t, "a_b_c", sanitize("a/b\\c"))
	assert.Equal(t, "target", sanitize(""))
	assert.Equal(t, "target", sanitize(".."))
}
