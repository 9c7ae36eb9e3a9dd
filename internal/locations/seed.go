package locations

// SeedLocations is the production location snapshot of 2025-12-18.
var SeedLocations = []Location{
	{Name: "Beaver Creek Resort", Country: "United States", Region: "Colorado", Lat: 39.60180753515927, Lon: -106.53155755995299, TimeZone: "America/Boise", IsSkiResort: true},
	{Name: "Bellevue", Country: "United States", Region: "Washington", Lat: 47.60982821170767, Lon: -122.19982508487432, TimeZone: "America/Los_Angeles"},
	{Name: "Breckenridge Ski Resort", Country: "United States", Region: "Colorado", Lat: 39.48058533715974, Lon: -106.0739308056387, TimeZone: "America/Los_Angeles", IsSkiResort: true},
	{Name: "Crested Butte Mountain Resort", Country: "United States", Region: "Colorado", Lat: 38.89921621240083, Lon: -106.96602763452617, TimeZone: "America/Boise", IsSkiResort: true},
	{Name: "Crystal Mountain Resort", Country: "United States", Region: "Washington", Lat: 46.93582721593556, Lon: -121.47472557121058, TimeZone: "America/Los_Angeles", IsSkiResort: true},
	{Name: "Keystone Resort", Country: "United States", Region: "Colorado", Lat: 39.58271804395299, Lon: -105.94395521335885, TimeZone: "America/Boise", IsSkiResort: true},
	{Name: "Kirkland", Country: "United States", Region: "Washington", Lat: 47.6767815493646, Lon: -122.20455560291758, TimeZone: "America/Los_Angeles"},
	{Name: "Park City Ski Resort", Country: "United States", Region: "Utah", Lat: 40.66166156005567, Lon: -111.54594542202282, TimeZone: "America/Boise", IsSkiResort: true},
	{Name: "Seattle", Country: "United States", Region: "Washington", Lat: 47.60626032173439, Lon: -122.33320221561831, TimeZone: "America/Los_Angeles"},
	{Name: "Stevens Pass", Country: "United States", Region: "Washington", Lat: 47.746408778169496, Lon: -121.08910822524726, TimeZone: "America/Los_Angeles", IsSkiResort: true},
	{Name: "Summit at Snoqualmie", Country: "United States", Region: "Washington", Lat: 47.42471625304692, Lon: -121.41642693098201, TimeZone: "America/Los_Angeles", IsSkiResort: true},
	{Name: "Vail Ski Resort", Country: "United States", Region: "Colorado", Lat: 39.60923961318908, Lon: -106.35427523296126, TimeZone: "America/Denver", IsSkiResort: true},
	{Name: "Whistler", Country: "Canada", Region: "British Columbia", Lat: 50.11267073043241, Lon: -122.95447652777622, TimeZone: "America/Los_Angeles", IsSkiResort: true},
}
