package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(factory string) Record {
	return Record{
		ID:         uuid.New(),
		Factory:    factory,
		CustomName: "Left lyrics",
		LoadType:   "manual",
		Locked:     true,
		Preferred:  true,
		FillWidth:  true,
		Properties: map[string]string{
			"cfg.font":   "Serif 12",
			"io.song":    "a:out,b:out",
			"meta.order": "3",
		},
	}
}

var ignoreUpdated = cmpopts.IgnoreFields(Record{}, "UpdatedAt")

func storesUnderTest(t *testing.T) map[string]PropertyStore {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "widgets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]PropertyStore{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord("Lyrics")
			require.NoError(t, s.Save(rec))

			got, err := s.Load(rec.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(rec, got, ignoreUpdated); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
			assert.False(t, got.UpdatedAt.IsZero())
		})
	}
}

func TestStoreSaveReplaces(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord("Lyrics")
			require.NoError(t, s.Save(rec))

			rec.Locked = false
			rec.Properties = map[string]string{"cfg.font": "Mono 10"}
			require.NoError(t, s.Save(rec))

			got, err := s.Load(rec.ID)
			require.NoError(t, err)
			assert.False(t, got.Locked)
			assert.Equal(t, map[string]string{"cfg.font": "Mono 10"}, got.Properties)

			all, err := s.List()
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStoreNotFoundAndDelete(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(uuid.New())
			assert.ErrorIs(t, err, ErrNotFound)

			rec := sampleRecord("Clock")
			require.NoError(t, s.Save(rec))
			require.NoError(t, s.Delete(rec.ID))
			require.NoError(t, s.Delete(rec.ID))

			_, err = s.Load(rec.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreListOrdering(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			for _, f := range []string{"Zebra", "Alpha", "Mid"} {
				require.NoError(t, s.Save(sampleRecord(f)))
			}
			all, err := s.List()
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "Alpha", all[0].Factory)
			assert.Equal(t, "Mid", all[1].Factory)
			assert.Equal(t, "Zebra", all[2].Factory)
		})
	}
}

func TestStoreClosed(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			assert.ErrorIs(t, s.Save(sampleRecord("X")), ErrClosed)
			_, err := s.List()
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	s := NewMemoryStore()
	rec := sampleRecord("Lyrics")
	require.NoError(t, s.Save(rec))

	rec.Properties["cfg.font"] = "mutated"
	got, err := s.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Serif 12", got.Properties["cfg.font"])

	got.Properties["cfg.font"] = "mutated again"
	again, _ := s.Load(rec.ID)
	assert.Equal(t, "Serif 12", again.Properties["cfg.font"])
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	rec := sampleRecord("Lyrics")
	require.NoError(t, s.Save(rec))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Properties, got.Properties)
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.db))
}

func TestPropertiesRoundTrip(t *testing.T) {
	props := map[string]string{
		"cfg.font":        "Serif 12",
		"cfg.separator":   "a=b:c",
		"cfg.multiline":   "one\ntwo",
		"cfg.leading":     "  spaced",
		"cfg.comment":     "#not a comment",
		"cfg.backslash":   `C:\music\`,
		"cfg.key with sp": "v",
		"cfg.empty":       "",
	}
	path := filepath.Join(t.TempDir(), "Lyrics", DefaultPropertiesFile)
	require.NoError(t, WriteProperties(path, props, "defaults for Lyrics"))

	got, err := ReadProperties(path)
	require.NoError(t, err)
	if diff := cmp.Diff(props, got); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeProperties(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"! also comment",
		"",
		"a = 1",
		"b:2",
		"c",
		`d = first \`,
		`    second`,
		`e = tab\there`,
	}, "\n")

	got, err := DecodeProperties(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a": "1",
		"b": "2",
		"c": "",
		"d": "first second",
		"e": "tab\there",
	}, got)
}

func TestReadPropertiesMissingFile(t *testing.T) {
	got, err := ReadProperties(filepath.Join(t.TempDir(), "nope.properties"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodePropertiesEmptyKey(t *testing.T) {
	_, err := DecodeProperties(strings.NewReader("=value\n"))
	assert.Error(t, err)
}

func TestPropertiesKeepReferencesVerbatim(t *testing.T) {
	props := map[string]string{
		"cfg.path":  "${HOME}/lyrics",
		"cfg.loop":  "${cfg.loop}",
		"cfg.title": "${artist} - ${title}",
	}
	var buf strings.Builder
	require.NoError(t, EncodeProperties(&buf, props, ""))

	got, err := DecodeProperties(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, props, got)
}
