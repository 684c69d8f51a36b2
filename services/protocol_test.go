package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboundMove(t *testing.T) {
	cmd, err := ParseInbound([]byte(`{"type":"move","row":3,"col":0,"value":7}`))
	require.NoError(t, err)
	move, ok := cmd.(MoveCommand)
	require.True(t, ok)
	assert.Equal(t, 3, move.Row)
	assert.Equal(t, 0, move.Col)
	assert.Equal(t, 7, move.Value)
}

func TestParseInboundMoveRejectsBadFrames(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing row", `{"type":"move","col":1,"value":2}`},
		{"missing col", `{"type":"move","row":1,"value":2}`},
		{"missing value", `{"type":"move","row":1,"col":2}`},
		{"row too large", `{"type":"move","row":9,"col":0,"value":1}`},
		{"col negative", `{"type":"move","row":0,"col":-1,"value":1}`},
		{"value zero", `{"type":"move","row":0,"col":0,"value":0}`},
		{"value too large", `{"type":"move","row":0,"col":0,"value":10}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseInbound([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestParseInboundEnvelope(t *testing.T) {
	_, err := ParseInbound([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseInbound([]byte(`{"row":1}`))
	assert.Error(t, err, "missing type field")

	_, err = ParseInbound([]byte(`{"type":"teleport"}`))
	assert.Error(t, err, "unknown type")
}

func TestParseInboundSimpleCommands(t *testing.T) {
	cmd, err := ParseInbound([]byte(`{"type":"join_game"}`))
	require.NoError(t, err)
	assert.IsType(t, JoinCommand{}, cmd)

	cmd, err = ParseInbound([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.IsType(t, PingCommand{}, cmd)

	cmd, err = ParseInbound([]byte(`{"type":"leave_game","reason":"rage quit"}`))
	require.NoError(t, err)
	leave, ok := cmd.(LeaveCommand)
	require.True(t, ok)
	assert.Equal(t, "rage quit", leave.Reason)
}

func TestParseInboundComplete(t *testing.T) {
	// completion_time is informational; the server recomputes it.
	cmd, err := ParseInbound([]byte(`{"type":"complete","completion_time":312}`))
	require.NoError(t, err)
	complete, ok := cmd.(CompleteCommand)
	require.True(t, ok)
	assert.Equal(t, 312, complete.ClaimedElapsed)

	cmd, err = ParseInbound([]byte(`{"type":"complete"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, cmd.(CompleteCommand).ClaimedElapsed)

	_, err = ParseInbound([]byte(`{"type":"complete","completion_time":-1}`))
	assert.Error(t, err)
}

func TestParseInboundPlayAgain(t *testing.T) {
	cmd, err := ParseInbound([]byte(`{"type":"play_again","difficulty":"hard"}`))
	require.NoError(t, err)
	assert.Equal(t, "hard", cmd.(PlayAgainCommand).Difficulty)

	_, err = ParseInbound([]byte(`{"type":"play_again"}`))
	assert.Error(t, err)
}

func TestFormatRaceTime(t *testing.T) {
	assert.Equal(t, "00:00", FormatRaceTime(0))
	assert.Equal(t, "00:05", FormatRaceTime(5*time.Second))
	assert.Equal(t, "01:05", FormatRaceTime(65*time.Second))
	assert.Equal(t, "10:00", FormatRaceTime(10*time.Minute))
	assert.Equal(t, "75:30", FormatRaceTime(75*time.Minute+30*time.Second))
	assert.Equal(t, "00:00", FormatRaceTime(-3*time.Second))
}
