package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunecraft/ecucore/correction"
	"github.com/tunecraft/ecucore/realtime"
	"github.com/tunecraft/ecucore/tableops"
	"github.com/tunecraft/ecucore/transport"
)

const testDefText = `
[TunerStudio]
signature = "speeduino 202310"
pageSizes = 64
signatureCommand = "Q"
readCommand = "r%1i%1o%2c"
writeCommand = "w%1i%1o%2v"
burnCommand = "b%1i"
ochGetCommand = "A%1o%1c"
ochBlockSize = 5

[Constants]
page = 0
rpmBins = array, U16, 0, [3], "RPM Bins", 1, 0, 0, 10000, 0
loadBins = array, U16, 6, [3], "Load Bins", 1, 0, 0, 10000, 0
veTable = array, U08, 12, [9], "VE Table", 1, 0, 0, 255, 0

[TableEditor]
veTable = veTableMap, veTable, rpmBins, loadBins, "VE Table", 0, rpm, map

[OutputChannels]
rpm = U16, 0, 1, 0, "RPM"
afr = U08, 2, 0.1, 0, "AFR"
map = U16, 3, 1, 0, "kPa"
`

func writeDefFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ini")
	require.NoError(t, os.WriteFile(path, []byte(testDefText), 0o644))
	return path
}

func padSignature(sig string, n int) []byte {
	b := make([]byte, n)
	copy(b, sig)
	return b
}

func newLoadedSession(t *testing.T) *Session {
	t.Helper()
	s := New()
	require.NoError(t, s.LoadDefinition(writeDefFile(t)))
	return s
}

func connectWithFake(t *testing.T, s *Session) *transport.FakeChannel {
	t.Helper()
	ch := transport.NewFakeChannel(padSignature("speeduino 202310", 64))
	orig := openChannel
	openChannel = func(ctx context.Context, cfg TransportConfig) (transport.Channel, error) {
		return ch, nil
	}
	t.Cleanup(func() { openChannel = orig })
	require.NoError(t, s.Connect(context.Background(), TransportConfig{Serial: &transport.SerialConfig{Port: "fake"}}))
	return ch
}

func TestLoadDefinitionParsesFileAndResetsCache(t *testing.T) {
	s := newLoadedSession(t)
	tbl, err := s.GetTable("veTable")
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Rows)
	assert.Equal(t, 3, tbl.Cols)
	assert.Len(t, tbl.Z, 9)
}

func TestConnectSetsConnectedState(t *testing.T) {
	s := newLoadedSession(t)
	connectWithFake(t, s)
	_, _, conn, err := s.requireReady()
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "speeduino 202310", conn.Signature())
}

func TestDisconnectClosesConnection(t *testing.T) {
	s := newLoadedSession(t)
	connectWithFake(t, s)
	require.NoError(t, s.Disconnect())
	_, _, conn, err := s.requireReady()
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestLoadDefinitionTearsDownExistingConnection(t *testing.T) {
	s := newLoadedSession(t)
	connectWithFake(t, s)
	require.NoError(t, s.LoadDefinition(writeDefFile(t)))
	_, _, conn, err := s.requireReady()
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestUpdateTableCellsWritesThroughToCache(t *testing.T) {
	s := newLoadedSession(t)
	require.NoError(t, s.UpdateTableCells("veTable", []CellUpdate{{Row: 1, Col: 1, Value: 42}}))
	snap, err := s.GetTable("veTable")
	require.NoError(t, err)
	assert.InDelta(t, 42, snap.Z[1*3+1], 0.001)
}

func TestScaleCellsMultipliesSelection(t *testing.T) {
	s := newLoadedSession(t)
	require.NoError(t, s.UpdateTableCells("veTable", []CellUpdate{{Row: 0, Col: 0, Value: 10}}))
	require.NoError(t, s.ScaleCells("veTable", tableops.Selection{RowStart: 0, RowEnd: 0, ColStart: 0, ColEnd: 0}, 2))
	snap, err := s.GetTable("veTable")
	require.NoError(t, err)
	assert.InDelta(t, 20, snap.Z[0], 0.001)
}

func TestSmoothCellsIsNoopWithZeroIterations(t *testing.T) {
	s := newLoadedSession(t)
	require.NoError(t, s.UpdateTableCells("veTable", []CellUpdate{{Row: 1, Col: 1, Value: 99}}))
	before, err := s.GetTable("veTable")
	require.NoError(t, err)
	require.NoError(t, s.SmoothCells("veTable", tableops.Selection{RowStart: 0, RowEnd: 2, ColStart: 0, ColEnd: 2}, 0))
	after, err := s.GetTable("veTable")
	require.NoError(t, err)
	assert.Equal(t, before.Z, after.Z)
}

func TestSyncPagesLoadsPagesFromECU(t *testing.T) {
	s := newLoadedSession(t)
	ch := connectWithFake(t, s)
	ch.Feed(make([]byte, 64)) // readcommand response: 64 zero bytes for the single 64-byte page
	report, err := s.SyncPages(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Synced, 0)
	assert.Empty(t, report.Failed)
}

func TestSaveThenLoadTuneRoundTrips(t *testing.T) {
	s := newLoadedSession(t)
	require.NoError(t, s.UpdateTableCells("veTable", []CellUpdate{{Row: 2, Col: 2, Value: 77}}))

	path := filepath.Join(t.TempDir(), "tune.msq")
	require.NoError(t, s.SaveTune(path, "tester", "unit test save"))

	s2 := newLoadedSession(t)
	info, err := s2.LoadTune(path)
	require.NoError(t, err)
	assert.Equal(t, path, info.Path)
	assert.False(t, info.Migration.Incompatible)

	snap, err := s2.GetTable("veTable")
	require.NoError(t, err)
	assert.InDelta(t, 77, snap.Z[2*3+2], 0.001)
}

func TestStartStopRuntimeStreamDeliversSampleEvent(t *testing.T) {
	s := newLoadedSession(t)
	ch := connectWithFake(t, s)
	ch.Feed(bytesForSample())

	events, unsub := s.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.StartRuntimeStream(ctx, realtime.Config{Period: 5 * time.Millisecond}))

	select {
	case ev := <-events:
		if ev.Kind != EventSample {
			t.Fatalf("expected EventSample, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sample event")
	}
	s.StopRuntimeStream()
}

func bytesForSample() []byte {
	// rpm=5000 (U16 LE), afr=147 (U8, scale 0.1 -> 14.7), map=100 (U16 LE)
	return []byte{0x88, 0x13, 147, 0x64, 0x00}
}

func TestStartCorrectionThenHeatmapAndStop(t *testing.T) {
	s := newLoadedSession(t)
	connectWithFake(t, s)

	def, c, _, err := s.requireReady()
	require.NoError(t, err)
	require.NoError(t, c.WriteArray("rpmBins", []float64{1000, 3000, 5000}))
	require.NoError(t, c.WriteArray("loadBins", []float64{25, 50, 75}))
	require.NoError(t, c.WriteArray("veTable", []float64{80, 80, 80, 80, 80, 80, 80, 80, 80}))

	cfg := correction.Config{TargetAFR: 14.7, Table: def.Tables["veTable"]}
	require.NoError(t, s.StartCorrection(cfg))
	require.NoError(t, s.PauseCorrection())
	require.NoError(t, s.ResumeCorrection())

	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	require.NotNil(t, eng)

	_, err = s.GetCorrectionHeatmap()
	require.NoError(t, err)

	s.StopCorrection()
	_, err = s.GetCorrectionHeatmap()
	assert.Error(t, err)
}

func TestSubscribeUnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	events, unsub := s.Subscribe()
	unsub()
	_, ok := <-events
	assert.False(t, ok)
}
