package drawpipe

type Commands struct {
	app *App
}

func (cmd *Commands) ChangeState(newState State) *Commands {
	cmd.app.changeState(newState)
	return cmd
}

func (cmd *Commands) AddResources(resources ...any) *Commands {
	cmd.app.addResources(resources...)
	return cmd
}

func (cmd *Commands) UseSystem(system systemScheduleBuilder) *Commands {
	cmd.app.UseSystem(system)
	return cmd
}

// Quit ends Run after the current frame.
func (cmd *Commands) Quit() {
	cmd.app.quit = true
}
