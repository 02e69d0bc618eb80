// cmd/mersect/main.go
package main

import (
	"mersect/internal/app"
	"mersect/internal/appshell"
)

func main() {
	appshell.Main(app.Run)
}
