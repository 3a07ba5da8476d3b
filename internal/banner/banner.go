package banner

import "fmt"

const Version = "1.0.0"

func Print() {
	banner := `
   ______                 _
  / ____/___  __  _______(_)__  _____
 / /   / __ \/ / / / ___/ / _ \/ ___/
/ /___/ /_/ / /_/ / /  / /  __/ /
\____/\____/\__,_/_/  /_/\___/_/
            v%s - Outbox/Inbox Delivery Engine
    `
	fmt.Printf(banner, Version)
	fmt.Println("\n------------------------------------------------")
}
