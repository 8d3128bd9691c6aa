package collections

// Managed is what a collection implements to be kept in
// sync by a Manager. P is the payload type of its updates,
// S the type of its snapshots.
//
// The Manager calls these methods with its store lock held,
// implementations must not lock on their own.
type Managed[P, S any] interface {

	// ApplyRemote performs the local store mutation that
	// action names. It runs once per delivered update.
	ApplyRemote(action Action, payload P) error

	// InstallSnapshot replaces the whole local store.
	InstallSnapshot(state S) error

	// ProvideSnapshot returns the current local store.
	ProvideSnapshot() S
}
