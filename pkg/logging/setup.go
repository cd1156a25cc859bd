package logging

// Configure replaces the global logger according to the supplied
// settings. Console output always goes to stderr so editor plugins keep
// stdout clean; a non-empty file path adds a file output alongside it.
func Configure(level, file string) error {
	outputs := []Output{NewConsoleOutput(true)}

	if file != "" {
		fileOut, err := NewFileOutput(file)
		if err != nil {
			return err
		}
		outputs = append(outputs, fileOut)
	}

	SetLogger(NewLogger(Config{
		Severity: ParseSeverity(level),
		Outputs:  outputs,
	}))
	return nil
}
