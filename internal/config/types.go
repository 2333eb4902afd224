package config

// defaultVenues lists the venues served when the config names none. All of
// them come from the built-in calendars; fact files only override dates.
var defaultVenues = []VenueConfig{
	{MIC: "BMEX", Name: "Bolsas y Mercados Españoles"},
	{MIC: "XAMS", Name: "Euronext Amsterdam"},
	{MIC: "XBRU", Name: "Euronext Brussels"},
	{MIC: "XETR", Name: "XETRA"},
	{MIC: "XLIS", Name: "Euronext Lisbon"},
	{MIC: "XLON", Name: "London Stock Exchange"},
	{MIC: "XMIL", Name: "Borsa Italiana S.P.A."},
	{MIC: "XNAS", Name: "Nasdaq Stock Exchange"},
	{MIC: "XNYS", Name: "New York Stock Exchange"},
	{MIC: "XPAR", Name: "Euronext Paris"},
	{MIC: "XSWX", Name: "SIX Swiss Exchange"},
	{MIC: "XTSE", Name: "Toronto Stock Exchange"},
}

// DefaultVenues returns a copy of the built-in venue list.
func DefaultVenues() []VenueConfig {
	out := make([]VenueConfig, len(defaultVenues))
	copy(out, defaultVenues)
	return out
}
