package main

import (
	"SocietyPortal/internal/bootstrap"
	"SocietyPortal/internal/config"
	pkg "SocietyPortal/pkg/routes"

	"go.uber.org/fx"
)

func main() {
	bootstrap.Loadenv()
	app := fx.New(
		fx.WithLogger(config.FxLogger),
		pkg.EchoModules,
	)

	app.Run()
}
