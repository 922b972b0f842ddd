// Command tutorgate runs the session, credential and rate limiting gateway
// in front of the tutor API.
package main

import "github.com/codetutor/tutorgate/cmd/tutorgate/cmd"

func main() {
	cmd.Execute()
}
