package main

import "forum-mailer/service"

func main() {
	service.Run()
}
