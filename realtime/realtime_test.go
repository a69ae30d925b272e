package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunecraft/ecucore/definition"
	"github.com/tunecraft/ecucore/protocol"
	"github.com/tunecraft/ecucore/transport"
)

func testDef() *definition.Definition {
	return &definition.Definition{
		Signature: "speeduino 202310",
		PageSizes: []int{4},
		Commands: map[string]string{
			"signaturecommand": "Q",
			"ochgetcommand":    "A%1o%1c",
		},
		Timing: definition.Timing{OCHBlockSize: 6},
		OutputChan: map[string]*definition.OutputChannel{
			"rpm":         {Name: "rpm", Offset: 0, Kind: definition.KindU16, Scale: 1},
			"afr":         {Name: "afr", Offset: 2, Kind: definition.KindU8, Scale: 0.1},
			"pulseWidth1": {Name: "pulseWidth1", Offset: 3, Kind: definition.KindU16, Scale: 0.001},
		},
	}
}

func padSignature(sig string, n int) []byte {
	b := make([]byte, n)
	copy(b, sig)
	return b
}

func connectedConn(t *testing.T, def *definition.Definition) (*protocol.Conn, *transport.FakeChannel) {
	t.Helper()
	ch := transport.NewFakeChannel(padSignature(def.Signature, 64))
	conn, err := protocol.NewConn(protocol.Config{Channel: ch, Def: def, Mode: protocol.EnvelopeRaw})
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	return conn, ch
}

func TestTickDecodesOutputChannels(t *testing.T) {
	def := testDef()
	conn, ch := connectedConn(t, def)
	s := New(conn, def, Config{})

	ch.Feed([]byte{0x88, 0x13, 147, 0xE8, 0x03, 0x00}) // rpm=5000, afr=14.7, pulseWidth1=1000 -> 1.0ms
	sample, err := s.tick(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 5000, sample.Values["rpm"], 0.001)
	assert.InDelta(t, 14.7, sample.Values["afr"], 0.001)
	assert.InDelta(t, 1.0, sample.Values["pulseWidth1"], 0.001)
}

func TestApplyDerivedComputesLambdaAndDutyCycle(t *testing.T) {
	def := testDef()
	conn, _ := connectedConn(t, def)
	s := New(conn, def, Config{DeriveLambda: true, DeriveDutyCycle: true, Stoich: 14.7})

	values := map[string]float64{"afr": 14.7, "rpm": 3000, "pulseWidth1": 2.5}
	s.applyDerived(values)
	assert.InDelta(t, 1.0, values["lambda"], 0.0001)
	assert.InDelta(t, 6.25, values["dutyCycle"], 0.01)
}

func TestApplyDerivedSkippedWhenInputsMissing(t *testing.T) {
	def := testDef()
	conn, _ := connectedConn(t, def)
	s := New(conn, def, Config{DeriveLambda: true, Stoich: 14.7})

	values := map[string]float64{"rpm": 3000}
	s.applyDerived(values)
	_, ok := values["lambda"]
	assert.False(t, ok)
}

func TestDecodeSkipsChannelOutsidePayloadBounds(t *testing.T) {
	def := testDef()
	def.OutputChan["oor"] = &definition.OutputChannel{Name: "oor", Offset: 50, Kind: definition.KindU8, Scale: 1}
	conn, _ := connectedConn(t, def)
	s := New(conn, def, Config{})

	out := s.decode([]byte{1, 2, 3, 4, 5, 6})
	_, ok := out["oor"]
	assert.False(t, ok)
	assert.Contains(t, out, "rpm")
}

func TestSubscribeReceivesPublishedSample(t *testing.T) {
	def := testDef()
	conn, _ := connectedConn(t, def)
	s := New(conn, def, Config{})
	sub, cancel := s.Subscribe()
	defer cancel()

	s.publish(Sample{Timestamp: time.Now(), Values: map[string]float64{"rpm": 4242}})
	select {
	case got := <-sub:
		assert.Equal(t, 4242.0, got.Values["rpm"])
	default:
		t.Fatal("expected a sample to be immediately available")
	}
}

func TestPublishIsLossyUnderSlowConsumer(t *testing.T) {
	def := testDef()
	conn, _ := connectedConn(t, def)
	s := New(conn, def, Config{})
	sub, cancel := s.Subscribe()
	defer cancel()

	s.publish(Sample{Values: map[string]float64{"rpm": 1}})
	s.publish(Sample{Values: map[string]float64{"rpm": 2}})
	s.publish(Sample{Values: map[string]float64{"rpm": 3}})

	got := <-sub
	assert.Equal(t, 3.0, got.Values["rpm"])
	select {
	case <-sub:
		t.Fatal("expected no further buffered samples")
	default:
	}
}

type fakeSink struct{ samples []Sample }

func (f *fakeSink) Feed(s Sample) { f.samples = append(f.samples, s) }

func TestSinkReceivesEveryPublishedSample(t *testing.T) {
	def := testDef()
	conn, _ := connectedConn(t, def)
	s := New(conn, def, Config{})
	sink := &fakeSink{}
	s.SetSink(sink)

	s.publish(Sample{Values: map[string]float64{"rpm": 1}})
	s.publish(Sample{Values: map[string]float64{"rpm": 2}})
	require.Len(t, sink.samples, 2)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	def := testDef()
	conn, ch := connectedConn(t, def)
	s := New(conn, def, Config{Period: 5 * time.Millisecond})
	for i := 0; i < 20; i++ {
		ch.Feed([]byte{0, 0, 0, 0, 0, 0})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.NoError(t, err)
}
