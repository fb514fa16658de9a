package checkpoint

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecore/internal/wipeerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoad_RoundTrips(t *testing.T) {
	s := openTestStore(t)

	rec := New("fp-1", "/dev/sda", "dod", "hash-1", 3, 1<<20)
	rec.UpdateProgress(1, 512)
	require.NoError(t, s.Save(rec))

	loaded, err := s.Load("fp-1", "dod")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, 1, loaded.CurrentPass)
	assert.Equal(t, uint64(512), loaded.BytesWritten)
}

func TestLoad_MissingRecordReturnsNilNil(t *testing.T) {
	s := openTestStore(t)

	loaded, err := s.Load("nonexistent", "zero")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadForResume_MismatchedPlanHashIsIncompatible(t *testing.T) {
	s := openTestStore(t)

	rec := New("fp-2", "/dev/sdb", "gutmann", "hash-a", 35, 1<<30)
	require.NoError(t, s.Save(rec))

	_, err := s.LoadForResume("fp-2", "gutmann", "hash-b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wipeerr.ErrResumeIncompatible))
}

func TestLoadForResume_MatchingPlanHashSucceeds(t *testing.T) {
	s := openTestStore(t)

	rec := New("fp-3", "/dev/sdc", "random", "hash-x", 1, 4096)
	require.NoError(t, s.Save(rec))

	loaded, err := s.LoadForResume("fp-3", "random", "hash-x")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec.ID, loaded.ID)
}

func TestDelete_RemovesRecord(t *testing.T) {
	s := openTestStore(t)

	rec := New("fp-4", "/dev/sdd", "zero", "hash-z", 1, 1024)
	require.NoError(t, s.Save(rec))
	require.NoError(t, s.Delete("fp-4", "zero"))

	loaded, err := s.Load("fp-4", "zero")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDelete_NonexistentIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Delete("never-existed", "zero"))
}

func TestList_ReturnsAllRecords(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save(New("fp-a", "/dev/sda", "zero", "h1", 1, 1)))
	require.NoError(t, s.Save(New("fp-b", "/dev/sdb", "dod", "h2", 3, 1)))

	records, err := s.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestPruneStale_RemovesOnlyOldRecords(t *testing.T) {
	s := openTestStore(t)

	fresh := New("fp-fresh", "/dev/sda", "zero", "h", 1, 1)
	stale := New("fp-stale", "/dev/sdb", "zero", "h", 1, 1)
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)

	require.NoError(t, s.Save(fresh))
	require.NoError(t, s.Save(stale))

	removed, err := s.PruneStale(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fp-fresh", records[0].DriveFingerprint)
}

func TestShouldSave_TriggersOnByteInterval(t *testing.T) {
	s := openTestStore(t)
	s.SetIntervals(time.Hour, 1000)
	s.lastSave = time.Now()
	s.lastSaveBytes = 0

	assert.False(t, s.ShouldSave(500), "under both thresholds should not trigger")
	assert.True(t, s.ShouldSave(1500), "exceeding the byte interval should trigger")
}

func TestShouldSave_TriggersOnTimeInterval(t *testing.T) {
	s := openTestStore(t)
	s.SetIntervals(time.Millisecond, 1<<62)
	s.lastSave = time.Now().Add(-time.Second)

	assert.True(t, s.ShouldSave(0))
}

func TestCompletionPercentage_ZeroTotalSizeIsZero(t *testing.T) {
	rec := New("fp", "/dev/sda", "zero", "h", 1, 0)
	assert.Equal(t, float64(0), rec.CompletionPercentage())
}

func TestCompletionPercentage_ComputesRatio(t *testing.T) {
	rec := New("fp", "/dev/sda", "zero", "h", 1, 1000)
	rec.UpdateProgress(0, 250)
	assert.InDelta(t, 25.0, rec.CompletionPercentage(), 0.001)
}

func TestRecordError_IncrementsCountAndStoresMessage(t *testing.T) {
	rec := New("fp", "/dev/sda", "zero", "h", 1, 1000)
	rec.RecordError("EIO at sector 100")
	rec.RecordError("EIO at sector 200")
	assert.Equal(t, 2, rec.ErrorCount)
	assert.Equal(t, "EIO at sector 200", rec.LastError)
}

func TestNew_StampsCurrentSchemaVersion(t *testing.T) {
	rec := New("fp", "/dev/sda", "zero", "h", 1, 1000)
	assert.Equal(t, CurrentSchemaVersion, rec.SchemaVersion)
}

func TestLoad_RefusesIncompatibleSchemaVersion(t *testing.T) {
	s := openTestStore(t)

	rec := New("fp-schema", "/dev/sde", "zero", "hash-s", 1, 1024)
	rec.SchemaVersion = CurrentSchemaVersion + 1
	require.NoError(t, s.Save(rec))

	_, err := s.Load("fp-schema", "zero")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wipeerr.ErrResumeIncompatible))
}

func TestRecordBadExtent_AppendsToList(t *testing.T) {
	rec := New("fp", "/dev/sda", "zero", "h", 1, 1000)
	rec.RecordBadExtent(4096, 512, wipeerr.ClassBadSector)
	rec.RecordBadExtent(8192, 512, wipeerr.ClassBadSector)
	require.Len(t, rec.BadExtents, 2)
	assert.Equal(t, BadExtent{Offset: 4096, Length: 512, Class: wipeerr.ClassBadSector}, rec.BadExtents[0])
}

func TestSetHiddenAreaExposed_RecordsPolicyAndPreExposeSectors(t *testing.T) {
	rec := New("fp", "/dev/sda", "zero", "h", 1, 1000)
	rec.SetHiddenAreaExposed("remove_temp", 1000000)
	assert.True(t, rec.HiddenAreaExposed)
	assert.Equal(t, "remove_temp", rec.HiddenAreaPolicy)
	assert.Equal(t, uint64(1000000), rec.HiddenAreaPreExposeSectors)

	rec.ClearHiddenAreaExposed()
	assert.False(t, rec.HiddenAreaExposed)
}

func TestSaveAndLoad_RoundTripsHiddenAreaAndBadExtentFields(t *testing.T) {
	s := openTestStore(t)

	rec := New("fp-hpa", "/dev/sdf", "zero", "hash-hpa", 1, 1<<20)
	rec.SetHiddenAreaExposed("remove_temp", 2000000)
	rec.RecordBadExtent(0, 65536, wipeerr.ClassBadSector)
	require.NoError(t, s.Save(rec))

	loaded, err := s.Load("fp-hpa", "zero")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.HiddenAreaExposed)
	assert.Equal(t, "remove_temp", loaded.HiddenAreaPolicy)
	assert.Equal(t, uint64(2000000), loaded.HiddenAreaPreExposeSectors)
	require.Len(t, loaded.BadExtents, 1)
	assert.Equal(t, uint64(65536), loaded.BadExtents[0].Length)
}
