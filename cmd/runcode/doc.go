// Command runcode runs one source file through the sandbox engine using the
// server's configuration and prints the program output.
//
//	runcode -file Solution.java -stdin input.txt
//	runcode -lang python -file main.txt
//
// The exit status is 0 on success, 1 when the program failed and 2 for
// configuration or infrastructure errors.
package main
