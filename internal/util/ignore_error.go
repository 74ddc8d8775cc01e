package util

// IgnoreError calls fn and drops its error. Example `defer util.IgnoreError(sqlDB.Close)`
func IgnoreError(fn func() error) {
	_ = fn()
}
