package version

// Version is the current version of dwhsync.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.4.0"

// Name is the application name.
const Name = "dwhsync"

// Description is a short description of the application.
const Description = "MySQL to Snowflake batch sync via an S3 bronze layer"
