package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type loginResponse struct {
	Token string `json:"token"`
}

// Smoke-tests the API service: register a user, log in with the email,
// then run an authenticated search.
func main() {
	apiAddr := "http://localhost:8081"
	email := fmt.Sprintf("smoke_%d@example.com", time.Now().Unix())
	username := fmt.Sprintf("smoke_%d", time.Now().Unix())

	// 1. Register
	reqBody, _ := json.Marshal(map[string]string{"username": username, "email": email})
	resp, err := http.Post(apiAddr+"/register", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	log.Printf("Register (%d): %s", resp.StatusCode, string(body))

	// 2. Login by email
	reqBody, _ = json.Marshal(map[string]string{"identifier": email})
	resp, err = http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", login.Token[:10])

	// 3. Authenticated search
	req, _ := http.NewRequest("GET", apiAddr+"/users/search?q=smoke", nil)
	req.Header.Add("Authorization", "Bearer "+login.Token)

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("Search request failed:", err)
	}
	defer resp.Body.Close()

	body, _ = io.ReadAll(resp.Body)
	log.Printf("Search: %s", string(body))
}
