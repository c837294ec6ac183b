// Copyright (c) Microsoft. All rights reserved.

// Command structured extracts a person's name, age and occupation from
// free text into a typed value.
//
// Uses the same environment as samples/basic.
package main

import (
	"context"
	"fmt"
	"log"

	af "github.com/jochenvw/agentrun/agentframework"
	"github.com/jochenvw/agentrun/samples/internal/foundry"
)

const bio = "There is a person named Alex Morgan, who has always been passionate about technology and innovation. " +
	"At 34 years old, Alex has accumulated a wealth of experience that makes them a trusted expert in the field. " +
	"Currently, Alex works as a Software Engineer, focusing on building scalable cloud solutions for enterprise environments. " +
	"Alex's journey began with a curiosity for how systems operate, which evolved into a career dedicated to solving complex technical challenges. " +
	"Outside of work, Alex enjoys exploring emerging technologies, attending developer conferences, and writing technical blogs to help others learn. " +
	"Fill out the person information please"

var personInfo = af.NewResponseFormat("PersonInfo",
	af.Field{Name: "name", Type: af.FieldString, Optional: true},
	af.Field{Name: "age", Type: af.FieldInteger, Optional: true},
	af.Field{Name: "occupation", Type: af.FieldString, Optional: true},
)

func main() {
	foundry.Setup()
	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	client, err := foundry.NewClient()
	if err != nil {
		return err
	}
	defer client.Close()

	agent := af.NewAgent(client,
		af.WithInstructions("You are a helpful assistant that extracts person information from text."),
	)
	thread, err := agent.NewThread(ctx)
	if err != nil {
		return err
	}

	resp, err := agent.RunText(ctx, bio, af.WithThread(thread), af.WithResponseFormat(personInfo))
	if err != nil {
		return err
	}
	line, found := describePerson(resp.Value)
	if !found {
		fmt.Println("No structured data found in response")
		return nil
	}
	fmt.Println(line)
	return nil
}

// describePerson formats the extracted fields. found is false when the
// model could not fill any of them.
func describePerson(v af.StructuredValue) (line string, found bool) {
	for _, f := range personInfo.Fields {
		if !v.IsUnknown(f.Name) {
			found = true
		}
	}
	return fmt.Sprintf("Name: %s, Age: %s, Occupation: %s",
		v.String("name"), v.String("age"), v.String("occupation")), found
}
