package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/dedup"
	"github.com/bibmerge/bibmerge/internal/domain"
	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/metadata"
	"github.com/bibmerge/bibmerge/internal/service"
	"github.com/bibmerge/bibmerge/internal/store"
	"github.com/bibmerge/bibmerge/internal/store/sqlite"
)

func testSources() *config.DataSources {
	return config.NewDataSources(
		&config.DataSource{ID: "helmet", Institution: "HelMet", Format: metadata.FormatJSON, Dedup: true},
		&config.DataSource{ID: "archive", Institution: "Archive", Format: metadata.FormatJSON, IDPrefix: "arc"},
		&config.DataSource{
			ID:          "clean",
			Institution: "Clean",
			Format:      metadata.FormatJSON,
			Dedup:       true,
			Normalization: config.Normalization{
				TrimSpace: true,
				Replace:   []config.Replacement{{From: "Kalewala", To: "Kalevala"}},
			},
		},
	)
}

func setupService(t *testing.T) (*service.RecordService, store.Store) {
	t.Helper()
	svc, st, _ := setupServiceWithLinker(t)
	return svc, st
}

func setupServiceWithLinker(t *testing.T) (*service.RecordService, store.Store, *dedup.Linker) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "records.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	linker := dedup.NewLinker(st, nil)
	return service.NewRecordService(st, metadata.Default(), linker, testSources(), nil), st, linker
}

func data(t *testing.T, fields map[string]any) string {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return string(b)
}

func records(recs ...service.ImportRecord) iter.Seq2[service.ImportRecord, error] {
	return func(yield func(service.ImportRecord, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestImport_NewRecords(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	res, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalevala", "isbns": []string{"951-1-08867-8"}, "format": "Book"})},
		service.ImportRecord{ID: "2", OAIID: "oai:helmet:2", Data: data(t, map[string]any{"title": "Seitsemän veljestä", "hostRecordId": "9"})},
	))
	require.NoError(t, err)
	assert.Equal(t, service.ImportResult{Imported: 2}, res)

	r, err := st.GetRecord(ctx, "helmet.1")
	require.NoError(t, err)
	assert.Equal(t, "helmet", r.SourceID)
	assert.Equal(t, metadata.FormatJSON, r.DataFormat)
	assert.Equal(t, "Book", r.Format)
	assert.Equal(t, []string{"9789511088677"}, r.ISBNKeys)
	assert.NotEmpty(t, r.TitleKeys)
	assert.NotEmpty(t, r.ContentHash)
	assert.Empty(t, r.NormalizedData, "no normalization configured")
	assert.True(t, r.UpdateNeeded, "dedup source marks records dirty")
	assert.False(t, r.Deleted)

	r2, err := st.GetRecord(ctx, "helmet.2")
	require.NoError(t, err)
	assert.Equal(t, "oai:helmet:2", r2.OAIID)
	assert.Equal(t, "helmet.9", r2.HostRecordID)
	assert.Equal(t, metadata.UnknownFormat, r2.Format)
}

func TestImport_SourceWithoutDedup(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "archive", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalevala"})},
	))
	require.NoError(t, err)

	r, err := st.GetRecord(ctx, "arc.1")
	require.NoError(t, err, "id prefix is used")
	assert.False(t, r.UpdateNeeded)
}

func TestImport_IDFromData(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	res, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{Data: data(t, map[string]any{"id": "77", "title": "Kalevala"})},
		service.ImportRecord{Data: data(t, map[string]any{"title": "No id anywhere"})},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Failed)

	_, err = st.GetRecord(ctx, "helmet.77")
	require.NoError(t, err)
}

func TestImport_SkipsUnchanged(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	rec := service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalevala"})}

	_, err := svc.Import(ctx, "helmet", records(rec))
	require.NoError(t, err)
	require.NoError(t, st.ClearUpdateNeeded(ctx, "helmet.1"))
	before, err := st.GetRecord(ctx, "helmet.1")
	require.NoError(t, err)

	res, err := svc.Import(ctx, "helmet", records(rec))
	require.NoError(t, err)
	assert.Equal(t, service.ImportResult{Unchanged: 1}, res)

	after, err := st.GetRecord(ctx, "helmet.1")
	require.NoError(t, err)
	assert.False(t, after.UpdateNeeded, "unchanged record stays clean")
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestImport_ChangedRecordKeepsClusterAndCreatedAt(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalevala"})},
	))
	require.NoError(t, err)
	linked, err := st.SetDedupKey(ctx, "helmet.1", "dedup-1")
	require.NoError(t, err)
	require.NoError(t, st.ClearUpdateNeeded(ctx, "helmet.1"))

	res, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kanteletar"})},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	r, err := st.GetRecord(ctx, "helmet.1")
	require.NoError(t, err)
	assert.Equal(t, "dedup-1", r.DedupKey)
	assert.True(t, r.UpdateNeeded)
	assert.Equal(t, linked.CreatedAt, r.CreatedAt)
	assert.Contains(t, r.OriginalData, "Kanteletar")
}

func TestImport_DeletedRecords(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalevala"})},
	))
	require.NoError(t, err)
	_, err = st.SetDedupKey(ctx, "helmet.1", "dedup-1")
	require.NoError(t, err)

	res, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Deleted: true},
		service.ImportRecord{ID: "404", Deleted: true},
	))
	require.NoError(t, err)
	assert.Equal(t, service.ImportResult{Deleted: 1, Unchanged: 1}, res)

	r, err := st.GetRecord(ctx, "helmet.1")
	require.NoError(t, err)
	assert.True(t, r.Deleted)
	assert.False(t, r.UpdateNeeded)
	assert.Equal(t, "dedup-1", r.DedupKey, "tombstones keep their cluster key")

	_, err = st.GetRecord(ctx, "helmet.404")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Reimporting the same data revives the record.
	res, err = svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalevala"})},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	r, err = st.GetRecord(ctx, "helmet.1")
	require.NoError(t, err)
	assert.False(t, r.Deleted)
}

func TestImport_MalformedRecordIsSkipped(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	res, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: "{not json"},
		service.ImportRecord{ID: "2", Data: data(t, map[string]any{"title": "Kalevala"})},
	))
	require.NoError(t, err)
	assert.Equal(t, service.ImportResult{Imported: 1, Failed: 1}, res)
	assert.Equal(t, 2, res.Total())

	n, err := st.CountRecords(ctx, store.RecordFilter{SourceID: "helmet"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImport_AppliesNormalization(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	raw := "  " + data(t, map[string]any{"title": "Kalewala"}) + "\n"
	_, err := svc.Import(ctx, "clean", records(service.ImportRecord{ID: "1", Data: raw}))
	require.NoError(t, err)

	r, err := st.GetRecord(ctx, "clean.1")
	require.NoError(t, err)
	assert.Equal(t, raw, r.OriginalData)
	assert.Equal(t, `{"title":"Kalevala"}`, r.NormalizedData)
	assert.Contains(t, r.TitleKeys[0], "kalevala")
}

func TestImport_UnknownSource(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Import(context.Background(), "nope", records())
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeConfig, domainerrors.CodeOf(err))
}

func TestImport_ReaderErrorStops(t *testing.T) {
	svc, _ := setupService(t)

	seq := func(yield func(service.ImportRecord, error) bool) {
		if !yield(service.ImportRecord{ID: "1", Data: `{"title":"A"}`}, nil) {
			return
		}
		yield(service.ImportRecord{}, assert.AnError)
	}
	res, err := svc.Import(context.Background(), "helmet", seq)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, res.Imported)
}

func TestRenormalize(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "clean", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalewala"})},
		service.ImportRecord{ID: "2", Data: data(t, map[string]any{"title": "Kanteletar"})},
	))
	require.NoError(t, err)
	for _, id := range []string{"clean.1", "clean.2"} {
		_, err := st.SetDedupKey(ctx, id, "dedup-x")
		require.NoError(t, err)
		require.NoError(t, st.ClearUpdateNeeded(ctx, id))
	}

	n, err := svc.Renormalize(ctx, "clean", "clean.1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r1, err := st.GetRecord(ctx, "clean.1")
	require.NoError(t, err)
	assert.Empty(t, r1.DedupKey)
	assert.True(t, r1.UpdateNeeded)
	assert.Contains(t, r1.NormalizedData, "Kalevala")

	r2, err := st.GetRecord(ctx, "clean.2")
	require.NoError(t, err)
	assert.Equal(t, "dedup-x", r2.DedupKey, "only the selected record is touched")

	n, err = svc.Renormalize(ctx, "clean", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRenormalize_UnlinksThroughLinker(t *testing.T) {
	svc, st, linker := setupServiceWithLinker(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "clean", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalewala"})},
	))
	require.NoError(t, err)
	_, err = svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalevala"})},
	))
	require.NoError(t, err)

	a, err := st.GetRecord(ctx, "clean.1")
	require.NoError(t, err)
	b, err := st.GetRecord(ctx, "helmet.1")
	require.NoError(t, err)
	key, err := linker.Link(ctx, a, b)
	require.NoError(t, err)

	_, err = svc.Renormalize(ctx, "clean", "")
	require.NoError(t, err)

	members, err := st.FindByDedupKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "helmet.1", members[0].ID)

	has, err := st.ClusterHasSource(ctx, key, "clean")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRenormalize_ConcurrentWithLinking(t *testing.T) {
	svc, st, linker := setupServiceWithLinker(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "clean", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalewala"})},
	))
	require.NoError(t, err)
	_, err = svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: data(t, map[string]any{"title": "Kalevala"})},
	))
	require.NoError(t, err)

	const rounds = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range rounds {
			a, err := st.GetRecord(ctx, "clean.1")
			if !assert.NoError(t, err) {
				return
			}
			b, err := st.GetRecord(ctx, "helmet.1")
			if !assert.NoError(t, err) {
				return
			}
			_, err = linker.Link(ctx, a, b)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for range rounds {
			_, err := svc.Renormalize(ctx, "clean", "clean.1")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	for _, id := range []string{"clean.1", "helmet.1"} {
		r, err := st.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, strings.Join(r.TitleKeys, " "), "kalevala", "%s keeps its keys", id)
		if r.DedupKey == "" {
			continue
		}
		members, err := st.FindByDedupKey(ctx, r.DedupKey)
		require.NoError(t, err)
		assert.True(t, slices.ContainsFunc(members, func(m *domain.Record) bool { return m.ID == id }),
			"%s is listed under its dedup key", id)
	}
}

func TestDeleteSource(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: `{"title":"A"}`},
		service.ImportRecord{ID: "2", Data: `{"title":"B"}`},
	))
	require.NoError(t, err)

	n, err := svc.DeleteSource(ctx, "helmet")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	live, err := svc.Count(ctx, store.RecordFilter{SourceID: "helmet"})
	require.NoError(t, err)
	assert.Zero(t, live)

	_, err = svc.DeleteSource(ctx, " ")
	assert.Equal(t, domainerrors.CodeValidation, domainerrors.CodeOf(err))
}

func TestGetAndCluster(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "helmet.1")
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))
	_, err = svc.Cluster(ctx, "dedup-none")
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))

	_, err = svc.Import(ctx, "helmet", records(service.ImportRecord{ID: "1", Data: `{"title":"A"}`}))
	require.NoError(t, err)
	_, err = svc.Import(ctx, "archive", records(service.ImportRecord{ID: "1", Data: `{"title":"A"}`}))
	require.NoError(t, err)
	for _, id := range []string{"helmet.1", "arc.1"} {
		_, err := st.SetDedupKey(ctx, id, "dedup-a")
		require.NoError(t, err)
	}

	r, err := svc.Get(ctx, "helmet.1")
	require.NoError(t, err)
	assert.Equal(t, "dedup-a", r.DedupKey)

	members, err := svc.Cluster(ctx, "dedup-a")
	require.NoError(t, err)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"arc.1", "helmet.1"}, ids)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "archive", stats[0].SourceID)
	assert.Equal(t, 1, stats[1].Clustered)
}

func TestDump(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "helmet", records(
		service.ImportRecord{ID: "1", Data: `{"title":"A","isbns":["9789511088678"]}`},
		service.ImportRecord{ID: "2", Data: `{"title":"B"}`},
	))
	require.NoError(t, err)

	t.Run("jsonl", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := svc.Dump(ctx, &buf, service.DumpJSONL, store.RecordFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		var r domain.Record
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &r))
		assert.Equal(t, "helmet.1", r.ID)
		assert.Equal(t, []string{"9789511088678"}, r.ISBNKeys)
	})

	t.Run("parquet", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := svc.Dump(ctx, &buf, service.DumpParquet, store.RecordFilter{RecordID: "helmet.2"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rows, err := parquet.Read[service.DumpRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "helmet.2", rows[0].ID)
		assert.Equal(t, "helmet", rows[0].SourceID)
		assert.True(t, rows[0].UpdateNeeded)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := svc.Dump(ctx, &bytes.Buffer{}, "xml", store.RecordFilter{})
		assert.Equal(t, domainerrors.CodeValidation, domainerrors.CodeOf(err))
	})
}

func collect(t *testing.T, seq iter.Seq2[service.ImportRecord, error]) ([]service.ImportRecord, error) {
	t.Helper()
	var out []service.ImportRecord
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func TestReadJSONL(t *testing.T) {
	input := `{"id":"1","data":"{}"}

{"id":"2","deleted":true}
`
	recs, err := collect(t, service.ReadJSONL(strings.NewReader(input)))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].ID)
	assert.True(t, recs[1].Deleted)

	recs, err = collect(t, service.ReadJSONL(strings.NewReader("{\"id\":\"1\"}\nnot json\n")))
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeValidation, domainerrors.CodeOf(err))
	assert.Len(t, recs, 1)
}

func TestReadImportFile(t *testing.T) {
	dir := t.TempDir()
	want := []service.ImportRecord{
		{ID: "1", Data: `{"title":"A"}`},
		{ID: "2", OAIID: "oai:2", Deleted: true},
	}

	path := filepath.Join(dir, "batch.parquet")
	require.NoError(t, parquet.WriteFile(path, want))

	got, err := collect(t, service.ReadImportFile(path))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = collect(t, service.ReadImportFile(filepath.Join(dir, "batch.csv")))
	assert.Equal(t, domainerrors.CodeValidation, domainerrors.CodeOf(err))

	assert.True(t, service.IsImportFile("x.JSONL"))
	assert.False(t, slices.Contains(service.ImportFileExtensions, ".csv"))
}
