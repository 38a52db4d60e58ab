// assetflow builds, watches and live-previews front-end assets.
package main

import (
	"os"

	"github.com/hupe1980/assetflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
