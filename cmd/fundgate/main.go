// fundgate bridges browser sessions to the fund platform API.
//
// Usage:
//
//	# Start the bridge
//	API_BASE_URL=https://api.example.com fundgate serve
//
//	# Sign in with a local key and print the session cookie
//	fundgate signin --bridge http://localhost:9000 --key $WALLET_KEY
//
//	# Inspect or end a session
//	fundgate session --bridge http://localhost:9000 --cookie <value>
//	fundgate logout --bridge http://localhost:9000 --cookie <value>
package main

func main() {
	Execute()
}
