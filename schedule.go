package drawpipe

import (
	"fmt"
	"slices"
)

type State int

type Stage struct {
	Name string
}

// Frame stages in execution order. The pipeline module drives one render
// step per stage; Update is for application systems such as camera input.
var (
	Prelude    = Stage{Name: "Prelude"}
	Update     = Stage{Name: "Update"}
	Cull       = Stage{Name: "Cull"}
	Occlude    = Stage{Name: "Occlude"}
	StateSort  = Stage{Name: "StateSort"}
	Render     = Stage{Name: "Render"}
	PostRender = Stage{Name: "PostRender"}
)

var DefaultStages = []Stage{Prelude, Update, Cull, Occlude, StateSort, Render, PostRender}

// systemScheduleBuilder places a system in a stage and, for stateful apps,
// in one phase of a state. Builders are values; each method returns a copy.
type systemScheduleBuilder struct {
	system  systemFn
	inStage Stage
	state   stateScheduleBuilder
	// stateless systems run every frame regardless of the app state
	stateless bool
}

type statePhase int

const (
	enter statePhase = iota
	execute
	exit
)

type stateScheduleBuilder struct {
	state  State
	phase  statePhase
	always bool
}

func OnEnter(state State) stateScheduleBuilder {
	return stateScheduleBuilder{state: state, phase: enter}
}

func OnExecute(state State) stateScheduleBuilder {
	return stateScheduleBuilder{state: state, phase: execute}
}

func OnExit(state State) stateScheduleBuilder {
	return stateScheduleBuilder{state: state, phase: exit}
}

// Always runs the system every frame in a stateful app.
func Always() stateScheduleBuilder {
	return stateScheduleBuilder{always: true}
}

func System(system systemFn) systemScheduleBuilder {
	return systemScheduleBuilder{system: system, inStage: Update, stateless: true}
}

func (sched systemScheduleBuilder) InStage(s Stage) systemScheduleBuilder {
	sched.inStage = s
	return sched
}

func (sched systemScheduleBuilder) InState(s stateScheduleBuilder) systemScheduleBuilder {
	sched.state = s
	sched.stateless = s.always
	return sched
}

type stagePosition int

const (
	stageBefore stagePosition = iota
	stageAfter
)

type stagePositionBuilder struct {
	position stagePosition
	target   Stage
}

func BeforeStage(s Stage) stagePositionBuilder {
	return stagePositionBuilder{
		position: stageBefore,
		target:   s,
	}
}

func AfterStage(s Stage) stagePositionBuilder {
	return stagePositionBuilder{
		position: stageAfter,
		target:   s,
	}
}

func (app *App) UseStage(stage Stage, where stagePositionBuilder) *App {
	at := slices.IndexFunc(app.stages, func(s Stage) bool { return s.Name == where.target.Name })
	if at < 0 {
		panic(fmt.Sprintf("Stage %v not found", where.target.Name))
	}
	if where.position == stageAfter {
		at++
	}
	app.stages = slices.Insert(app.stages, at, stage)
	app.initStatefulStage(stage)

	return app
}

func (app *App) UseSystem(system systemScheduleBuilder) *App {
	name := system.inStage.Name
	if system.stateless {
		if _, ok := app.systemsStateless[name]; !ok {
			panic(fmt.Sprintf("Stage %v doesn't exist", name))
		}
		app.systemsStateless[name] = append(app.systemsStateless[name], system.system)
		return app
	}

	if !app.stateful {
		panic("Trying to use a stateful system in a stateless app.")
	}
	inStage, ok := app.systems[name]
	if !ok {
		panic(fmt.Sprintf("Stage %v doesn't exist", name))
	}
	inState, ok := inStage[system.state.state]
	if !ok {
		panic(fmt.Sprintf("State %v doesn't exist", system.state.state))
	}
	inState[system.state.phase] = append(inState[system.state.phase], system.system)
	return app
}

func (app *App) initStatefulStage(stage Stage) {
	app.systemsStateless[stage.Name] = nil
	if !app.stateful {
		return
	}
	states := make(map[State]map[statePhase][]systemFn)
	for state := app.initialState; state <= app.finalState; state++ {
		states[state] = map[statePhase][]systemFn{enter: nil, execute: nil, exit: nil}
	}
	app.systems[stage.Name] = states
}
