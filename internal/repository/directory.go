// Package repository is the DynamoDB-backed directory of doctors, patient
// assignments, and patient preferences.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Ahrakshith/healthcare-app/internal/domain"
)

const (
	skProfile      = "PROFILE#"
	skPrefixAssign = "ASSIGN#"

	defaultLanguage = "en"
)

// ErrDoctorNotFound is returned when no doctor profile exists for an auth
// uid.
var ErrDoctorNotFound = errors.New("repository: doctor not found")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a single DynamoDB directory table.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a directory Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// doctorPK keys a doctor profile by auth uid; doctor-scoped assignment rows
// use rosterPK with the public doctorId instead, so the two keyspaces never
// collide.
func doctorPK(uid string) string {
	return "DOCTORUID#" + uid
}

func rosterPK(doctorID string) string {
	return "DOCTOR#" + doctorID
}

func patientPK(patientID string) string {
	return "PATIENT#" + patientID
}

// DoctorByUID resolves the directory profile behind an authenticated user.
func (c *Client) DoctorByUID(ctx context.Context, uid string) (domain.Doctor, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: doctorPK(uid)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Doctor{}, fmt.Errorf("repository: DoctorByUID get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Doctor{}, ErrDoctorNotFound
	}
	doctorID, err := strAttr(out.Item, "doctorId")
	if err != nil {
		return domain.Doctor{}, fmt.Errorf("repository: DoctorByUID decode: %w", err)
	}
	name, _ := strAttr(out.Item, "name")
	email, _ := strAttr(out.Item, "email")
	return domain.Doctor{UID: uid, DoctorID: doctorID, Name: name, Email: email}, nil
}

// Assignments queries the roster of patients assigned to a doctor, oldest
// assignment first.
func (c *Client) Assignments(ctx context.Context, doctorID string) ([]domain.Assignment, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: rosterPK(doctorID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixAssign},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Assignments query: %w", err)
	}
	assignments := make([]domain.Assignment, 0, len(out.Items))
	for _, item := range out.Items {
		a, err := itemToAssignment(doctorID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: Assignments unmarshal: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

// PatientLanguage returns the patient's preferred language, defaulting to
// English when the patient record or the preference is absent.
func (c *Client) PatientLanguage(ctx context.Context, patientID string) (string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: patientPK(patientID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
	})
	if err != nil {
		return "", fmt.Errorf("repository: PatientLanguage get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return defaultLanguage, nil
	}
	lang, err := strAttr(out.Item, "languagePreference")
	if err != nil || lang == "" {
		return defaultLanguage, nil
	}
	return lang, nil
}

func itemToAssignment(doctorID string, item map[string]types.AttributeValue) (domain.Assignment, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Assignment{}, err
	}
	patientID := strings.TrimPrefix(sk, skPrefixAssign)
	if patientID == "" || patientID == sk {
		return domain.Assignment{}, fmt.Errorf("repository: malformed assignment SK %q", sk)
	}
	ts, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.Assignment{}, err
	}
	assignedAt, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("repository: parse assignment timestamp: %w", err)
	}
	name, _ := strAttr(item, "patientName")
	if name == "" {
		name = "Patient " + patientID
	}
	age, _ := strAttr(item, "age")
	sex, _ := strAttr(item, "sex")
	return domain.Assignment{
		PatientID:   patientID,
		DoctorID:    doctorID,
		PatientName: name,
		Age:         age,
		Sex:         sex,
		AssignedAt:  assignedAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
