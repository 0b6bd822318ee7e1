package drawpipe

import "fmt"

// AppBuilder collects modules and lays out the stages before anything is
// installed, so modules can schedule systems in any stage.
type AppBuilder struct {
	app     *App
	modules []Module
}

func NewAppBuilder() *AppBuilder {
	return &AppBuilder{app: newApp()}
}

// UseStates makes the app stateful over the inclusive state range.
func (b *AppBuilder) UseStates(initialState State, finalState State) *AppBuilder {
	if finalState < initialState {
		panic(fmt.Sprintf("final state %v before initial state %v", finalState, initialState))
	}
	b.app.stateful = true
	b.app.initialState = initialState
	b.app.finalState = finalState
	return b
}

func (b *AppBuilder) UseModule(modules ...Module) *AppBuilder {
	b.modules = append(b.modules, modules...)
	return b
}

// Build installs every module in order and returns the app.
func (b *AppBuilder) Build() *App {
	app := b.app
	for _, stage := range DefaultStages {
		app.stages = append(app.stages, stage)
		app.initStatefulStage(stage)
	}

	cmd := app.Commands()
	for _, module := range b.modules {
		module.Install(app, cmd)
	}
	return app
}
