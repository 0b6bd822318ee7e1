// Package drawpipe is the application shell around the render pipeline:
// an App runs registered systems stage by stage once per frame, injecting
// resources by type.
package drawpipe

import (
	"fmt"
	"reflect"
	"runtime"
)

type systemFn any

// Module installs resources and systems into an App.
type Module interface {
	Install(app *App, cmd *Commands)
}

type App struct {
	stateful           bool
	stateTransitioning bool
	initialState       State
	finalState         State
	nextState          State
	state              State
	stages             []Stage
	systems            map[string]map[State]map[statePhase][]systemFn
	systemsStateless   map[string][]systemFn
	resources          map[reflect.Type]any
	quit               bool
	frames             uint64
}

func newApp() *App {
	app := &App{
		systems:          make(map[string]map[State]map[statePhase][]systemFn),
		systemsStateless: make(map[string][]systemFn),
		resources:        make(map[reflect.Type]any),
	}
	return app
}

func (app *App) Commands() *Commands {
	return &Commands{app: app}
}

// Frames returns how many frames ran.
func (app *App) Frames() uint64 { return app.frames }

func (app *App) State() State { return app.state }

// Run executes frames until a system quits or the final state is reached.
func (app *App) Run() {
	app.RunFrames(0)
}

// RunFrames is Run with a frame limit; zero means no limit.
func (app *App) RunFrames(limit int) {
	log := app.Logger()
	if app.stateful {
		log.Debugf("running in stateful mode")
		app.state = app.initialState
		app.callSystems(app.state, enter)
	} else {
		log.Debugf("running in stateless mode")
	}

	for n := 0; limit <= 0 || n < limit; n++ {
		if app.step() {
			return
		}
	}
}

// step runs one frame and reports whether the app is done.
func (app *App) step() bool {
	app.callSystems(app.state, execute)
	app.frames++

	if app.stateful {
		if app.stateTransitioning {
			app.stateTransitioning = false
			app.executeChangeState(app.nextState)
		}
		if app.state == app.finalState {
			app.callSystems(app.state, exit)
			return true
		}
	}
	return app.quit
}

func (app *App) callSystems(state State, phase statePhase) {
	for _, stage := range app.stages {
		// On execute, call stateless/always run systems first
		if execute == phase {
			for _, system := range app.systemsStateless[stage.Name] {
				app.callSystem(system)
			}
		}

		if app.stateful {
			if systemsInStage, ok := app.systems[stage.Name]; ok {
				if systemsInState, ok := systemsInStage[state]; ok {
					for _, system := range systemsInState[phase] {
						app.callSystem(system)
					}
				}
			}
		}
	}
}

func (app *App) changeState(newState State) {
	app.nextState = newState
	app.stateTransitioning = true
}

func (app *App) executeChangeState(newState State) {
	app.callSystems(app.state, exit)
	app.state = newState
	app.callSystems(app.state, enter)
}

func (app *App) addResources(resources ...any) *App {
	for _, resource := range resources {
		resourceType := reflect.TypeOf(resource)
		if resourceType.Kind() != reflect.Pointer {
			panic(fmt.Sprintf("%s is not a pointer", resourceType))
		}
		if _, ok := app.resources[resourceType.Elem()]; ok {
			panic(fmt.Sprintf("%s is already in resources", resourceType))
		}

		app.resources[resourceType.Elem()] = resource
	}
	return app
}

// Resource returns the resource of type *T, or nil.
func Resource[T any](app *App) *T {
	r, ok := app.resources[reflect.TypeFor[T]()]
	if !ok {
		return nil
	}
	return r.(*T)
}

var typeOfCommands = reflect.TypeOf(Commands{})

func (app *App) callSystem(system systemFn) {
	systemType := reflect.TypeOf(system)
	systemValue := reflect.ValueOf(system)

	args := make([]reflect.Value, systemType.NumIn())

	for i := 0; i < systemType.NumIn(); i++ {
		argType := systemType.In(i)
		if argType.Kind() != reflect.Pointer {
			app.unresolved(systemValue, systemType, argType)
		}
		underlyingType := argType.Elem()

		if underlyingType == typeOfCommands {
			args[i] = reflect.ValueOf(&Commands{app: app})
		} else if resource, argIsResource := app.resources[underlyingType]; argIsResource {
			args[i] = reflect.ValueOf(resource)
		} else {
			app.unresolved(systemValue, systemType, argType)
		}
	}
	systemValue.Call(args)
}

func (app *App) unresolved(systemValue reflect.Value, systemType, argType reflect.Type) {
	panic(fmt.Sprintf("Unable to resolve System dependency.\nSystem: %s\nSystem type: %s\nDependency: %s",
		runtime.FuncForPC(systemValue.Pointer()).Name(),
		fmt.Sprint(systemType),
		fmt.Sprint(argType),
	))
}
