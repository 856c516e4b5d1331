package version

// Version is the current version of emr-dqa.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.4.0"

// Name is the application name.
const Name = "emr-dqa"

// Description is a short description of the application.
const Description = "Data-quality auditing for OpenMRS facility schemas and the OHDL warehouse"
