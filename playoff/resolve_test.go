package playoff

import (
	"math"
	"testing"

	"github.com/cpacia/cupforecast/tournament"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	def, err := tournament.Default()
	require.NoError(t, err)

	ratings := map[string]float64{"COD": 1640, "JAM": 1570, "NCL": 1210, "ITA": 1850, "NIR": 1610}
	team := func(code string) Team {
		r, ok := ratings[code]
		if !ok {
			r = 1500
		}
		return Team{Code: code, Name: code, Rating: r}
	}

	res := Resolve(model, def, team)
	require.Len(t, res.Intercontinental, len(def.Intercontinental))
	require.Len(t, res.UEFA, len(def.UEFA))

	ic := res.Intercontinental[0]
	assert.Equal(t, "Pathway 1", ic.Name)
	assert.Equal(t, "IC_1", ic.Placeholder)
	assert.Equal(t, "K", ic.Destination)
	want := ResolveBracket(model, team("COD"), [2]Team{team("JAM"), team("NCL")})
	assert.InDelta(t, want.ExpectedRating, ic.ExpectedRating, 1e-12)

	path := res.UEFA[0]
	assert.Equal(t, "Path A", path.Name)
	assert.Equal(t, "UEFA_A", path.Placeholder)
	assert.Equal(t, "B", path.Destination)
	assert.Equal(t, "ITA", path.Teams[0].Code)

	phr := res.PlaceholderRatings()
	assert.Len(t, phr, len(def.Placeholders()))
	assert.Equal(t, math.Round(ic.ExpectedRating), phr["IC_1"])
	assert.Equal(t, math.Round(path.ExpectedRating), phr["UEFA_A"])

	// Four equal teams resolve to exactly their shared rating.
	assert.Equal(t, 1500.0, phr["UEFA_B"])
}
