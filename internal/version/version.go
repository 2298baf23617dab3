package version

// Version is the current version of the warpmeet binary.
// Release builds override it with:
//   go build -ldflags="-X 'github.com/BioHazard786/warpmeet/internal/version.Version=v1.0.0'"
var Version = "dev"
