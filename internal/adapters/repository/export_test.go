package repository

// Rebind exposes placeholder rewriting for tests.
func Rebind(driver, q string) string {
	s := &SQLStore{driver: driver}
	return s.rebind(q)
}
