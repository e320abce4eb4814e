package phedex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_XML(t *testing.T) {
	c := NewCatalog()
	c.AddBlock("/D/E/F", "/D/E/F#b2", false)
	c.AddBlock("/D/E/F", "/D/E/F#b1", true)
	c.AddDataset("/A/B/C", true)

	assert.Equal(t, 2, c.Len())

	got, err := c.XML("prod/global")
	require.NoError(t, err)

	want := `<data version="2.0"><dbs name="prod/global">` +
		`<dataset name="/A/B/C" is-open="y"></dataset>` +
		`<dataset name="/D/E/F" is-open="n">` +
		`<block name="/D/E/F#b1" is-open="y"></block>` +
		`<block name="/D/E/F#b2" is-open="n"></block>` +
		`</dataset></dbs></data>`
	assert.Equal(t, want, got)
}

func TestCatalog_EscapesNames(t *testing.T) {
	c := NewCatalog()
	c.AddDataset(`/A&B/C"D/E`, false)

	got, err := c.XML("x")
	require.NoError(t, err)
	assert.Contains(t, got, `name="/A&amp;B/C&#34;D/E"`)
}
