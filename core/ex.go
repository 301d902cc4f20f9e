package core

// ExampleDefinition makes an example Definition that's useful to
// have around.
//
// An entity starts at "start", moves to "middle" on the next
// Transition, waits an hour there, and then settles at "done".
func ExampleDefinition() (*Definition, error) {
	return NewBuilder("example", "start").
		Doc("Start, wait an hour, and finish.").
		Event("start", Options{
			OptDesc:       "Entity has entered the workflow",
			OptTransition: "middle",
		}).
		Event("middle", Options{
			OptDesc:       "Waiting for things to settle",
			OptExpires:    Duration(1, "hours"),
			OptTransition: "done",
		}).
		Event("done", Options{
			OptDesc:     "Finished",
			OptTerminus: true,
		}).
		Build()
}
