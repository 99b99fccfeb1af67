package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "\ufeffProductId,Name,Number,Rarity\r\n" +
	"1001,\"Pikachu, Promo\",25,Promo\r\n" +
	"1002,\"Charizard \"\"Shiny\"\"\",4/102,Rare Holo\r\n" +
	"1003,\"Multi\nLine\",7,Common\r\n" +
	"\r\n" +
	"1004,Bulbasaur,44,Common"

func parseAll(chunks []string) ([]string, [][]string, CSVStats) {
	s := NewCSVStream()
	var rows [][]string
	for _, c := range chunks {
		rows = append(rows, s.ParseChunk([]byte(c))...)
	}
	rows = append(rows, s.Finalize()...)
	return s.Header(), rows, s.Stats()
}

func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

func TestCSVStream_SingleChunk(t *testing.T) {
	header, rows, stats := parseAll([]string{sampleCSV})

	assert.Equal(t, []string{"productid", "name", "number", "rarity"}, header)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"1001", "Pikachu, Promo", "25", "Promo"}, rows[0])
	assert.Equal(t, `Charizard "Shiny"`, rows[1][1])
	assert.Equal(t, "Multi\nLine", rows[2][1])
	assert.Equal(t, []string{"1004", "Bulbasaur", "44", "Common"}, rows[3])
	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, 0, stats.Malformed)
}

func TestCSVStream_ChunkingRoundTrip(t *testing.T) {
	_, want, _ := parseAll([]string{sampleCSV})

	for size := 1; size <= len(sampleCSV); size++ {
		_, got, _ := parseAll(splitEvery(sampleCSV, size))
		require.Equal(t, want, got, "chunk size %d", size)
	}

	// 任意两段切分
	for cut := 0; cut <= len(sampleCSV); cut++ {
		_, got, _ := parseAll([]string{sampleCSV[:cut], sampleCSV[cut:]})
		require.Equal(t, want, got, "cut at %d", cut)
	}
}

func TestCSVStream_QuotedComma(t *testing.T) {
	_, rows, _ := parseAll([]string{"name,number\n\"Pikachu, Promo\",25\n"})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"Pikachu, Promo", "25"}, rows[0])
}

func TestCSVStream_HoldsPartialLineUntilFinalize(t *testing.T) {
	s := NewCSVStream()
	assert.Empty(t, s.ParseChunk([]byte("id,name\n1,Pik")))
	assert.Equal(t, []string{"id", "name"}, s.Header())

	rows := s.ParseChunk([]byte("achu\n2,Ee"))
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"1", "Pikachu"}, rows[0])

	rows = s.Finalize()
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"2", "Ee"}, rows[0])
	assert.Empty(t, s.Finalize())
}

func TestCSVStream_QuotedHeaderLowercased(t *testing.T) {
	header, _, _ := parseAll([]string{"\"Product ID\", \"Clean Name\"\n"})
	assert.Equal(t, []string{"product id", "clean name"}, header)
}

func TestStreamCSV(t *testing.T) {
	var got [][]string
	s, err := StreamCSV(strings.NewReader(sampleCSV), 7, func(header, row []string) error {
		assert.Len(t, header, 4)
		got = append(got, row)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 4, s.Stats().Rows)
}

func TestStreamCSV_CallbackErrorStops(t *testing.T) {
	calls := 0
	_, err := StreamCSV(strings.NewReader(sampleCSV), 0, func(_, _ []string) error {
		calls++
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

const bareQuoteCSV = "productId,name,number\n" +
	"1,12\" Playmat,\n" +
	"2,Pikachu,25\n" +
	"3,\"Deck \"Box\" Red\",\n" +
	"4,Raichu,26\n"

func TestCSVStream_BareQuoteInsideField(t *testing.T) {
	_, want, stats := parseAll([]string{bareQuoteCSV})

	require.Len(t, want, 4)
	assert.Equal(t, []string{"1", `12" Playmat`, ""}, want[0])
	assert.Equal(t, []string{"2", "Pikachu", "25"}, want[1])
	assert.Equal(t, `Deck "Box" Red`, want[2][1])
	assert.Equal(t, []string{"4", "Raichu", "26"}, want[3])
	assert.Equal(t, CSVStats{Rows: 4}, stats)

	for size := 1; size <= len(bareQuoteCSV); size++ {
		_, got, st := parseAll(splitEvery(bareQuoteCSV, size))
		require.Equal(t, want, got, "chunk size %d", size)
		require.Equal(t, stats, st, "chunk size %d", size)
	}
}

func TestCSVStream_BOMBeforeQuotedHeader(t *testing.T) {
	body := "\ufeff\"Product\nId\",Name\n1,Pikachu\n"
	for size := 1; size <= len(body); size++ {
		header, rows, _ := parseAll(splitEvery(body, size))
		require.Equal(t, []string{"product\nid", "name"}, header, "chunk size %d", size)
		require.Equal(t, [][]string{{"1", "Pikachu"}}, rows, "chunk size %d", size)
	}
}
