package record

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    SensorRecord
		wantErr bool
	}{
		{
			name: "valid line - full row",
			line: "09/28/2016 17:34:28.967000, 12, 1, Gen2, -51, E2801160600002, 25.5, 100.25, 1, 0, x",
			want: SensorRecord{
				Timestamp:   time.Date(2016, 9, 28, 17, 34, 28, 967000000, time.UTC),
				Channel:     "1",
				Tension:     100.25,
				Temperature: 25.5,
			},
		},
		{
			name: "valid line - short fraction, no trailing fields",
			line: "09/28/2016 17:34:29.7,3,2,Gen2,-60,EPC,24,110",
			want: SensorRecord{
				Timestamp:   time.Date(2016, 9, 28, 17, 34, 29, 700000000, time.UTC),
				Channel:     "2",
				Tension:     110,
				Temperature: 24,
			},
		},
		{
			name: "valid line - single digit month",
			line: "9/8/2016 07:04:05.000001,1,3,Gen2,-40,EPC,-2.5,0",
			want: SensorRecord{
				Timestamp:   time.Date(2016, 9, 8, 7, 4, 5, 1000, time.UTC),
				Channel:     "3",
				Tension:     0,
				Temperature: -2.5,
			},
		},
		{
			name: "valid line - non-numeric channel kept as is",
			line: "09/28/2016 17:34:28.967,1,A1,Gen2,-51,EPC,25,100",
			want: SensorRecord{
				Timestamp:   time.Date(2016, 9, 28, 17, 34, 28, 967000000, time.UTC),
				Channel:     "A1",
				Tension:     100,
				Temperature: 25,
			},
		},
		{name: "header row", line: "TimeStamp, ReadCount, Antenna, Protocol, RSSI, EPC, Temp, Ten, Powr, Unpowr, Inf", wantErr: true},
		{name: "missing fraction", line: "09/28/2016 17:34:28,1,1,Gen2,-51,EPC,25,100", wantErr: true},
		{name: "fraction too long", line: "09/28/2016 17:34:28.1234567,1,1,Gen2,-51,EPC,25,100", wantErr: true},
		{name: "bad date", line: "2016-09-28 17:34:28.967,1,1,Gen2,-51,EPC,25,100", wantErr: true},
		{name: "non-numeric tension", line: "09/28/2016 17:34:28.967,1,1,Gen2,-51,EPC,25,abc", wantErr: true},
		{name: "non-numeric temperature", line: "09/28/2016 17:34:28.967,1,1,Gen2,-51,EPC,hot,100", wantErr: true},
		{name: "NaN tension", line: "09/28/2016 17:34:28.967,1,1,Gen2,-51,EPC,25,NaN", wantErr: true},
		{name: "infinite temperature", line: "09/28/2016 17:34:28.967,1,1,Gen2,-51,EPC,+Inf,100", wantErr: true},
		{name: "empty channel", line: "09/28/2016 17:34:28.967,1, ,Gen2,-51,EPC,25,100", wantErr: true},
		{name: "too few fields", line: "09/28/2016 17:34:28.967,1,1,Gen2,-51,EPC,25", wantErr: true},
		{name: "empty line", line: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedRecord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromFields_FieldError(t *testing.T) {
	fields := []string{"09/28/2016 17:34:28.967", "1", "2", "Gen2", "-51", "EPC", "25", "oops"}

	_, err := FromFields(fields)
	require.Error(t, err)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Ten", fe.Field)
	assert.Equal(t, "oops", fe.Value)
	assert.Contains(t, err.Error(), "Ten")
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp(" 09/28/2016 17:34:30.500 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2016, 9, 28, 17, 34, 30, 500000000, time.UTC), ts)

	_, err = ParseTimestamp("09/28/2016 17:34:30.")
	assert.Error(t, err)

	_, err = ParseTimestamp("09/28/2016 17:34:30.5x")
	assert.Error(t, err)
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank("  \t"))
	assert.False(t, IsBlank("x"))
}
