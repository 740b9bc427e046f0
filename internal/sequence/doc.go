// Package sequence parses sequence description files.
//
// A description is line oriented. Everything after the first '#' is a
// comment, surrounding whitespace is ignored and blank lines are skipped.
// Each remaining line starts with a one letter command:
//
//	l file.go        load a resource script
//	i setup()        evaluated once before the schedule starts
//	f teardown()     evaluated once after the schedule finished
//	s 10 step()      single step, evaluated 10s after the previous single step
//	p 5 poll()       periodic, evaluated every 5s while single steps remain
//	P 5 1 poll()     periodic with offset, evaluated at t=6, t=11, ...
//	r 3              repeat block begin
//	R                repeat block end
//
// Numeric fields are separated from each other and from the trailing
// expression by whitespace or commas. The expression (or path) is taken
// verbatim up to the end of the line.
package sequence
