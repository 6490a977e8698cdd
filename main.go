package main

import "minio-backend/cmd"

func main() {
	cmd.Execute()
}
