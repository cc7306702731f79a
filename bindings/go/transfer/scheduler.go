package transfer

const (
	MinWorkers = 1
	MaxWorkers = 20
)

// ClampWorkers limits the number of concurrent workers to [MinWorkers, MaxWorkers].
func ClampWorkers(workers int) int {
	return min(max(workers, MinWorkers), MaxWorkers)
}
