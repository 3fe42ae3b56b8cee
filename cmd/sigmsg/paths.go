package main

import "tools.zach/dev/sigmsg/internal/paths"

// DataPaths aliases [paths.DataDir] so daemon code can use the path helpers
// without the package qualifier.
type DataPaths = paths.DataDir
